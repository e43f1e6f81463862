package logging

import "github.com/sirupsen/logrus"

// Sampler logs every Nth call. It is owned by a single goroutine and is
// not safe for concurrent use.
type Sampler struct {
	log   logrus.FieldLogger
	every int
	count uint64
}

func NewSampler(log logrus.FieldLogger, every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{log: OrDiscard(log), every: every}
}

// Warnf counts the occurrence and logs it at warn level when the count
// hits the sampling interval. The first occurrence is always logged.
func (s *Sampler) Warnf(format string, args ...any) {
	if s.tick() {
		s.log.WithField("occurrences", s.count).Warnf(format, args...)
	}
}

func (s *Sampler) Errorf(format string, args ...any) {
	if s.tick() {
		s.log.WithField("occurrences", s.count).Errorf(format, args...)
	}
}

// Count returns how many times the sampler was hit.
func (s *Sampler) Count() uint64 {
	return s.count
}

func (s *Sampler) tick() bool {
	s.count++
	return s.count == 1 || s.count%uint64(s.every) == 0
}
