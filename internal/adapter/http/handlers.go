package http

import (
	"bytes"
	"cmp"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/port/transport"
	"github.com/Strob0t/opsloop/internal/report"
	"github.com/Strob0t/opsloop/internal/service"
)

// maxRequestBodySize applies when Handlers.BodyLimit is zero.
const maxRequestBodySize = 1 << 20

// Handlers holds the services the API routes call.
type Handlers struct {
	Policy    *service.PolicyService
	Loop      *service.LoopService // nil answers POST /v1/runs with 503
	BodyLimit int64
	// RunsDisabled explains a nil Loop to callers.
	RunsDisabled string
	// Checks are reported by /health; a false result marks the service degraded.
	Checks map[string]func() bool
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return maxRequestBodySize
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.Checks))
		for name, check := range h.Checks {
			if check() {
				resp.Checks[name] = "ok"
				continue
			}
			resp.Checks[name] = "down"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type profileSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Preset      bool   `json:"preset"`
	Default     bool   `json:"default"`
}

// ListPolicies handles GET /v1/policies.
func (h *Handlers) ListPolicies(w http.ResponseWriter, _ *http.Request) {
	names := h.Policy.ListProfiles()
	out := make([]profileSummary, 0, len(names))
	for _, name := range names {
		p, _ := h.Policy.GetProfile(name)
		out = append(out, profileSummary{
			Name:        name,
			Description: p.Description,
			Preset:      policy.IsPreset(name),
			Default:     name == h.Policy.DefaultProfile(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPolicy handles GET /v1/policies/{name}.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := h.Policy.GetProfile(name)
	if !ok {
		writeError(w, http.StatusNotFound, "policy profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type classifyRequest struct {
	Profile string `json:"profile"`
	Command string `json:"command"`
}

type classifyResponse struct {
	Profile    string         `json:"profile"`
	Command    string         `json:"command"`
	Verdict    policy.Verdict `json:"verdict"`
	ExecutedAs string         `json:"executed_as,omitempty"`
}

// Classify handles POST /v1/classify. It never executes anything.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[classifyRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	cls, err := h.Policy.Classifier(req.Profile)
	if err != nil {
		writeDomainError(w, err, "policy profile not found")
		return
	}
	v, err := h.Policy.Classify(r.Context(), cls.Profile(), req.Command)
	if err != nil {
		writeDomainError(w, err, "policy profile not found")
		return
	}
	resp := classifyResponse{Profile: cls.Profile(), Command: req.Command, Verdict: v}
	if v.Allowed() {
		if n := cls.Normalize(req.Command); n != strings.TrimSpace(req.Command) {
			resp.ExecutedAs = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type runRequest struct {
	ID         string `json:"id"`
	Goal       string `json:"goal"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
	Profile    string `json:"profile"`
	MaxSteps   int    `json:"max_steps"`
}

// CreateRun handles POST /v1/runs. The run executes synchronously within
// the request; closing the connection cancels it. ?format=markdown returns
// the rendered report instead of the run record.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	if h.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "runs are disabled: "+cmp.Or(h.RunsDisabled, "no run loop configured"))
		return
	}
	format := report.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := report.ParseFormat(q)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}
		format = f
	}

	req, ok := readJSON[runRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.Goal, "goal") || !requireField(w, req.Host, "host") || !requireField(w, req.User, "user") {
		return
	}
	if req.MaxSteps < 0 {
		writeError(w, http.StatusBadRequest, "max_steps must be >= 0")
		return
	}

	d := transport.Descriptor{
		Host:       req.Host,
		Port:       req.Port,
		User:       req.User,
		Password:   req.Password,
		Passphrase: req.Passphrase,
	}
	if req.PrivateKey != "" {
		d.Key = []byte(req.PrivateKey)
	}

	res, err := h.Loop.Run(r.Context(), service.RunRequest{
		ID:         req.ID,
		Goal:       req.Goal,
		Descriptor: d,
		Profile:    req.Profile,
		MaxSteps:   req.MaxSteps,
	})
	if err != nil {
		writeDomainError(w, err, "policy profile not found")
		return
	}

	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, res)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, res, format); err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
