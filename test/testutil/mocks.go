package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/arcmill/arcmill/internal/format"
	"github.com/arcmill/arcmill/internal/models"
)

// MockHandler mocks the full format.Handler contract including the
// repair and validate extensions.
type MockHandler struct {
	mock.Mock
	Format format.Format
	Exts   []string
}

// NewMockHandler creates a mock handler for a format id.
func NewMockHandler(id format.Format, exts ...string) *MockHandler {
	return &MockHandler{Format: id, Exts: exts}
}

func (m *MockHandler) ID() format.Format { return m.Format }

func (m *MockHandler) Extensions() []string { return m.Exts }

func (m *MockHandler) MimeTypes() []string { return nil }

func (m *MockHandler) Load(ctx context.Context, data []byte, opts format.ParseOptions) ([]*models.FileNode, error) {
	args := m.Called(ctx, data, opts)
	if nodes := args.Get(0); nodes != nil {
		return nodes.([]*models.FileNode), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockHandler) Repair(ctx context.Context, data []byte, cause error) *models.RepairOutcome {
	args := m.Called(ctx, data, cause)
	if out := args.Get(0); out != nil {
		return out.(*models.RepairOutcome)
	}
	return models.FailedRepair("mock repair unavailable")
}

func (m *MockHandler) Validate(nodes []*models.FileNode) *models.ValidationResult {
	args := m.Called(nodes)
	if res := args.Get(0); res != nil {
		return res.(*models.ValidationResult)
	}
	return models.NewValidationResult()
}

// MockBasicHandler mocks a handler with no repair or extract support.
type MockBasicHandler struct {
	mock.Mock
	Format format.Format
	Exts   []string
}

// NewMockBasicHandler creates a load-only mock handler.
func NewMockBasicHandler(id format.Format, exts ...string) *MockBasicHandler {
	return &MockBasicHandler{Format: id, Exts: exts}
}

func (m *MockBasicHandler) ID() format.Format { return m.Format }

func (m *MockBasicHandler) Extensions() []string { return m.Exts }

func (m *MockBasicHandler) MimeTypes() []string { return nil }

func (m *MockBasicHandler) Load(ctx context.Context, data []byte, opts format.ParseOptions) ([]*models.FileNode, error) {
	args := m.Called(ctx, data, opts)
	if nodes := args.Get(0); nodes != nil {
		return nodes.([]*models.FileNode), args.Error(1)
	}
	return nil, args.Error(1)
}

// FlakySource serves bytes until a configured offset, then fails every
// read with the configured error. It drives retry and breaker tests.
type FlakySource struct {
	SourceName string
	Data       []byte
	FailFrom   int64
	Err        error
}

func (s *FlakySource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.FailFrom {
		return 0, s.Err
	}

	end := off + int64(len(p))
	if end > s.FailFrom {
		n := copy(p, s.Data[off:s.FailFrom])
		return n, s.Err
	}
	if end > int64(len(s.Data)) {
		end = int64(len(s.Data))
	}
	n := copy(p, s.Data[off:end])
	return n, nil
}

func (s *FlakySource) Size() int64 { return int64(len(s.Data)) }

func (s *FlakySource) Name() string { return s.SourceName }
