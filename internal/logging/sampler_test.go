package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerLogsFirstAndEveryNth(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := NewSampler(log, 3)

	for i := 0; i < 7; i++ {
		s.Warnf("recv error %d", i)
	}

	// hits 1, 3 and 6
	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "recv error 0", hook.AllEntries()[0].Message)
	assert.Equal(t, "recv error 5", hook.LastEntry().Message)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, uint64(7), s.Count())
}

func TestNewParsesLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("debug", false).GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("nonsense", true).GetLevel())
}
