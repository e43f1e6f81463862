package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/output"
)

var errLimit = errors.New("limit reached")

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 1, "Number of records to dump (0 = all)")
		skip  = flag.Int("skip", 0, "Records to skip before dumping")
	)
	flag.Parse()
	log := logging.New("info", false)

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	dec := ingest.NewDecoder(nil)
	index, dumped := 0, 0
	err = output.ReadRawLog(f, func(rec output.RawRecord) error {
		defer func() { index++ }()
		if index < *skip {
			return nil
		}
		if *limit > 0 && dumped >= *limit {
			return errLimit
		}
		dumped++

		entry := log.WithFields(map[string]any{
			"record":    index,
			"timestamp": rec.Received.Format(time.RFC3339Nano),
			"size":      len(rec.Payload),
		})
		var decoded any
		if err := cbor.Unmarshal(rec.Payload, &decoded); err != nil {
			entry.WithError(err).Warn("CBOR decode error")
			return nil
		}
		resolved, err := dec.Resolve(decoded)
		if err != nil {
			entry.WithError(err).Warn("Tag resolution failed; dumping unresolved")
			resolved = decoded
		}
		pretty, err := json.MarshalIndent(output.NormalizeJSONValue(resolved), "", "  ")
		if err != nil {
			entry.WithError(err).Warn("JSON encode error")
			return nil
		}
		entry.Info("record")
		fmt.Println(string(pretty))
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		log.Fatalf("read rawlog: %v", err)
	}
}
