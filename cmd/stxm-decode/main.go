package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

func main() {
	path := flag.String("path", "", "Path to CBOR file or directory")
	limit := flag.Int("limit", 5, "Max number of image messages to summarize")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	log := logging.New(level, false)

	if *path == "" {
		log.Fatal("missing -path")
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}

	dec := ingest.NewDecoder(nil)
	counts := map[types.MessageType]int{}
	var failed int
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.WithError(err).Warnf("read %s", file)
			failed++
			continue
		}

		msg, err := dec.DecodeMessage(data)
		if err != nil {
			log.WithError(err).Warnf("decode %s", file)
			failed++
			continue
		}
		counts[msg.Type]++

		switch msg.Type {
		case types.MessageStart, types.MessageEnd:
			fmt.Printf("%s: %s\n", msg.Type, file)
			for _, key := range sortedKeys(msg.Meta) {
				fmt.Printf("  %s: %s\n", key, describe(msg.Meta[key]))
			}
		case types.MessageImage:
			if counts[msg.Type] > *limit {
				continue
			}
			fmt.Printf("image: %s\n", file)
			fmt.Printf("  image_id: %d\n", msg.Image.ImageID)
			fmt.Printf("  start_time: %.6f\n", msg.Image.StartTime)
			for _, ch := range sortedKeys(msg.Image.Channels) {
				payload := msg.Image.Channels[ch]
				line := describe(payload)
				if n, ok, err := processing.CountUnsaturated(payload); err == nil && ok {
					line += fmt.Sprintf(" unsaturated=%d", n)
				}
				fmt.Printf("  channel %s: %s\n", ch, line)
			}
		default:
			fmt.Printf("unknown type %q: %s\n", msg.RawType, file)
		}
	}

	fmt.Printf("summary: start=%d image=%d end=%d unknown=%d failed=%d\n",
		counts[types.MessageStart], counts[types.MessageImage], counts[types.MessageEnd], counts[types.MessageUnknown], failed)
}

func describe(v any) string {
	switch t := v.(type) {
	case *ingest.NDArray:
		return fmt.Sprintf("array %v %s order=%s", t.Shape, t.Data.DType, t.Order)
	case ingest.Array:
		return fmt.Sprintf("array [%d] %s", t.Len(), t.DType)
	case []byte:
		return fmt.Sprintf("%d bytes", len(t))
	case []any:
		if len(t) > 8 {
			return fmt.Sprintf("list of %d", len(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".cbor" {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
