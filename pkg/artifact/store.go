package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/provider"
)

// ProviderStore implements Store on any provider.Provider.
type ProviderStore struct {
	p      provider.Provider
	logger *zap.Logger
}

var _ Store = (*ProviderStore)(nil)

func NewProviderStore(p provider.Provider, logger *zap.Logger) *ProviderStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderStore{p: p, logger: logger}
}

// Provider exposes the underlying backend.
func (s *ProviderStore) Provider() provider.Provider { return s.p }

func (s *ProviderStore) Exists(ctx context.Context, name string, dir Dir) (bool, error) {
	if !dir.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidDir, dir)
	}
	_, err := s.p.Head(ctx, Key(dir, name))
	if err == nil {
		return true, nil
	}
	if provider.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *ProviderStore) Put(ctx context.Context, localPath string, dir Dir) error {
	name := filepath.Base(localPath)
	if !dir.Valid() {
		return &TransferError{Op: "put", Dir: dir, Name: name, Err: ErrInvalidDir}
	}
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Op: "put", Dir: dir, Name: name, Err: err}
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return &TransferError{Op: "put", Dir: dir, Name: name, Err: err}
	}
	if err := s.p.PutObject(ctx, Key(dir, name), f, st.Size()); err != nil {
		return &TransferError{Op: "put", Dir: dir, Name: name, Err: err}
	}
	s.logger.Debug("artifact uploaded",
		zap.String("dir", dir.String()),
		zap.String("name", name),
		zap.Int64("bytes", st.Size()))
	return nil
}

// Get writes to a sibling temp file and renames on success so a failed
// download never leaves a truncated archive at localPath.
func (s *ProviderStore) Get(ctx context.Context, name string, dir Dir, localPath string) (bool, error) {
	if !dir.Valid() {
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: ErrInvalidDir}
	}
	body, _, err := s.p.GetObject(ctx, Key(dir, name))
	if err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: err}
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: err}
	}
	tmp := localPath + ".part-" + uuid.NewString()[:8]
	out, err := os.Create(tmp)
	if err != nil {
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: err}
	}
	_, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: copyErr}
	}
	if err := os.Rename(tmp, localPath); err != nil {
		_ = os.Remove(tmp)
		return false, &TransferError{Op: "get", Dir: dir, Name: name, Err: err}
	}
	return true, nil
}

func (s *ProviderStore) Delete(ctx context.Context, name string, dir Dir) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDir, dir)
	}
	return s.p.DeleteObject(ctx, Key(dir, name))
}

func (s *ProviderStore) ListDirectory(ctx context.Context, dir Dir) ([]string, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDir, dir)
	}
	lister, ok := s.p.(provider.Lister)
	if !ok {
		return nil, fmt.Errorf("provider does not support listing")
	}
	objects, err := lister.List(ctx, string(dir)+"/")
	if err != nil {
		return nil, err
	}
	prefix := string(dir) + "/"
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == obj.Key || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, path.Base(rest))
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
	return names, nil
}

// naturalLess orders digit runs by value, so worker backup "-2" sorts
// before "-10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := leadingDigits(a), leadingDigits(b)
		if da != "" && db != "" {
			na, nb := strings.TrimLeft(da, "0"), strings.TrimLeft(db, "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			if len(da) != len(db) {
				return len(da) < len(db)
			}
			a, b = a[len(da):], b[len(db):]
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
