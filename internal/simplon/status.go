// Package simplon polls the detector's SIMPLON REST API for module states
// shown on the status page.
package simplon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
)

var modules = []string{"detector", "stream", "filewriter", "monitor"}

type Status struct {
	Detector   string    `json:"detector"`
	Stream     string    `json:"stream"`
	Filewriter string    `json:"filewriter"`
	Monitor    string    `json:"monitor"`
	Updated    time.Time `json:"updated"`
}

type Poller struct {
	baseURL    string
	apiVersion string
	interval   time.Duration
	client     *http.Client
	log        logrus.FieldLogger
}

func NewPoller(baseURL, apiVersion string, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		interval:   interval,
		client:     &http.Client{Timeout: 900 * time.Millisecond},
		log:        logging.OrDiscard(log),
	}
}

// Poll reports the module states every interval until ctx is cancelled.
func (p *Poller) Poll(ctx context.Context, update func(Status)) {
	if p.baseURL == "" || update == nil {
		return
	}
	p.log.WithField("url", p.baseURL).Info("Polling SIMPLON status")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last Status
	for {
		status := p.Fetch(ctx)
		if status.Detector != last.Detector {
			p.log.Debugf("Detector state %s", status.Detector)
		}
		last = status
		update(status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) Fetch(ctx context.Context) Status {
	states := make(map[string]string, len(modules))
	for _, module := range modules {
		states[module] = p.fetchState(ctx, module)
	}
	return Status{
		Detector:   states["detector"],
		Stream:     states["stream"],
		Filewriter: states["filewriter"],
		Monitor:    states["monitor"],
		Updated:    time.Now(),
	}
}

// BuildPaths lists the URLs a parameter may live at, most specific first.
// Firmware differs in where the API version sits in the path.
func BuildPaths(baseURL, apiVersion, module, kind, param string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	apiVersion = strings.Trim(apiVersion, "/")
	module = strings.Trim(module, "/")
	kind = strings.Trim(kind, "/")
	param = strings.TrimLeft(param, "/")
	if baseURL == "" || module == "" || kind == "" || param == "" {
		return nil
	}

	paths := make([]string, 0, 3)
	if apiVersion != "" {
		paths = append(paths, baseURL+"/"+module+"/api/"+apiVersion+"/"+kind+"/"+param)
		paths = append(paths, baseURL+"/api/"+apiVersion+"/"+module+"/"+kind+"/"+param)
	}
	paths = append(paths, baseURL+"/"+module+"/"+kind+"/"+param)
	return paths
}

func (p *Poller) fetchState(ctx context.Context, module string) string {
	result := "error"
	for _, path := range BuildPaths(p.baseURL, p.apiVersion, module, "status", "state") {
		state, code := p.fetch(ctx, path)
		if code == http.StatusNotFound {
			result = "http_404"
			continue
		}
		return state
	}
	return result
}

func (p *Poller) fetch(ctx context.Context, endpoint string) (string, int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "error", 0
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "error", 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("http_%d", resp.StatusCode), resp.StatusCode
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "error", resp.StatusCode
	}
	if len(body) == 0 {
		return "ok", resp.StatusCode
	}
	state, ok := extractState(body)
	if !ok {
		return "ok", resp.StatusCode
	}
	return state, resp.StatusCode
}

func extractState(payload []byte) (string, bool) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", false
	}
	state := findState(decoded)
	if state == "" {
		return "", false
	}
	return strings.ToLower(state), true
}

func findState(value any) string {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range []string{"state", "status", "value"} {
			if entry, ok := v[key]; ok {
				switch inner := entry.(type) {
				case string:
					return inner
				default:
					if nested := findState(inner); nested != "" {
						return nested
					}
				}
			}
		}
	case []any:
		for _, entry := range v {
			if nested := findState(entry); nested != "" {
				return nested
			}
		}
	}
	return ""
}
