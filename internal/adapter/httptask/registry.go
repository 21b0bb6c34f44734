package httptask

import (
	"fmt"
	"strconv"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
)

// Registry is the simplest possible api.TaskRegistry: it only knows the
// "http" task type and builds a Factory straight from the plan's
// parameters map. A real deployment with several task kinds would compose
// this behind its own dispatch, but the control API only needs something
// satisfying Factory(taskType, params) (task.Factory, error).
type Registry struct{}

// NewRegistry builds an empty Registry.
func NewRegistry() Registry { return Registry{} }

// Factory implements api.TaskRegistry. Recognized parameters: url (required),
// method, timeout_ms, max_idle_conns, and any number of header.<Name> keys.
func (Registry) Factory(taskType string, params map[string]string) (task.Factory, error) {
	if taskType != "http" && taskType != "" {
		return nil, fmt.Errorf("httptask: unsupported task_type %q", taskType)
	}

	url := params["url"]
	if url == "" {
		return nil, fmt.Errorf("httptask: parameter %q is required", "url")
	}

	cfg := Config{
		Method:  params["method"],
		URL:     url,
		Headers: make(map[string]string),
	}
	if v, ok := params["timeout_ms"]; ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("httptask: parameter %q: %w", "timeout_ms", err)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := params["max_idle_conns"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("httptask: parameter %q: %w", "max_idle_conns", err)
		}
		cfg.MaxIdleConnsPerHost = n
	}
	const headerPrefix = "header."
	for k, v := range params {
		if len(k) > len(headerPrefix) && k[:len(headerPrefix)] == headerPrefix {
			cfg.Headers[k[len(headerPrefix):]] = v
		}
	}

	return NewFactory(cfg), nil
}
