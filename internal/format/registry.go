package format

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/models"
)

// Registration is the registry's public view of a handler.
type Registration struct {
	ID         Format   `json:"id"`
	Extensions []string `json:"extensions"`
	MimeTypes  []string `json:"mime_types"`
	CanRepair  bool     `json:"can_repair"`
	CanExtract bool     `json:"can_extract"`
}

// Registry maps formats to handlers and resolves parse requests. It is
// safe for concurrent use; registration is expected at startup but
// tolerated at any time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Format]Handler
	order    []Format
	logger   *events.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *events.Logger) *Registry {
	return &Registry{
		handlers: make(map[Format]Handler),
		logger:   logger.WithField("component", "format"),
	}
}

// DefaultRegistry creates a registry with every built-in handler.
func DefaultRegistry(logger *events.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewZipHandler())
	r.Register(NewTarHandler())
	r.Register(NewTgzHandler())
	r.Register(NewRarHandler())
	r.Register(NewSevenZipHandler())
	return r
}

// Register stores a handler under its format id. Re-registering an id
// overwrites the previous handler with a warning, never an error.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	if _, exists := r.handlers[id]; exists {
		r.logger.WithField("format", string(id)).Warn("Overwriting archive handler")
	} else {
		r.order = append(r.order, id)
	}
	r.handlers[id] = h

	r.logger.WithFields(map[string]interface{}{
		"format":     string(id),
		"extensions": strings.Join(h.Extensions(), ","),
	}).Debug("Registered archive handler")
}

// Handler looks up the handler for a format.
func (r *Registry) Handler(f Format) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[f]
	return h, ok
}

// Registrations lists registered handlers in registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]Registration, 0, len(r.order))
	for _, id := range r.order {
		h := r.handlers[id]
		regs = append(regs, Registration{
			ID:         id,
			Extensions: h.Extensions(),
			MimeTypes:  h.MimeTypes(),
			CanRepair:  CanRepair(h),
			CanExtract: CanExtract(h),
		})
	}
	return regs
}

// Formats lists registered format ids sorted alphabetically.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Format, len(r.order))
	copy(out, r.order)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DetectFormat identifies an archive from its filename extension
// first, then from magic bytes in the first chunk. A miss returns
// ("", false); parsing decides whether that is fatal.
func (r *Registry) DetectFormat(filename string, firstChunk []byte) (Format, bool) {
	if f, ok := r.matchExtension(filename); ok {
		return f, true
	}
	if len(firstChunk) > 0 {
		return Sniff(firstChunk)
	}
	return "", false
}

func (r *Registry) matchExtension(filename string) (Format, bool) {
	name := strings.ToLower(filename)
	if name == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		for _, ext := range r.handlers[id].Extensions() {
			if strings.HasSuffix(name, ext) {
				return id, true
			}
		}
	}
	return "", false
}

// Resolve finds the handler for a format id or a filename-like string,
// sniffing the data when the name alone is not enough. No handler is a
// distinct *models.NoHandlerError.
func (r *Registry) Resolve(formatOrFilename string, firstChunk []byte) (Handler, error) {
	if h, ok := r.Handler(Format(strings.ToLower(formatOrFilename))); ok {
		return h, nil
	}

	detected, ok := r.DetectFormat(formatOrFilename, firstChunk)
	if !ok {
		return nil, &models.NoHandlerError{}
	}

	h, ok := r.Handler(detected)
	if !ok {
		return nil, &models.NoHandlerError{Format: string(detected)}
	}
	return h, nil
}

// ParseWithHandler resolves a handler and delegates the parse to it.
func (r *Registry) ParseWithHandler(ctx context.Context, formatOrFilename string, data []byte, opts ParseOptions) ([]*models.FileNode, error) {
	h, err := r.Resolve(formatOrFilename, data)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"format": string(h.ID()),
		"bytes":  len(data),
	}).Debug("Parsing archive")

	return h.Load(ctx, data, opts)
}
