// internal/schema/registry_test.go
package schema

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/types"
)

func writeSchema(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "signup.yaml", "fields:\n  email:\n    rules: required|email\n")
	writeSchema(t, dir, "contact.yml", "name: contact-us\nfields:\n  message:\n    rules: required\n")
	writeSchema(t, dir, "notes.txt", "not a schema")
	writeSchema(t, dir, ".hidden.yaml", "garbage: [")

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Contains(t, defs, "signup", "file name is the default schema name")
	require.Contains(t, defs, "contact-us")
	require.Equal(t, filepath.Join(dir, "signup.yaml"), defs["signup"].Source)
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "a.yaml", "name: same\nfields: {}\n")
	writeSchema(t, dir, "b.yaml", "name: same\nfields: {}\n")

	_, err := LoadDir(dir)
	require.ErrorIs(t, err, types.ErrInvalidSchema)
}

func TestRegistry_GetAndReload(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "signup.yaml", "fields:\n  email:\n    rules: required\n")

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	r, err := NewRegistry(dir, WithMetrics(m))
	require.NoError(t, err)
	defer r.Stop()

	d, err := r.Get("signup")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"email": "required"}, d.Extract().Rules)

	_, err = r.Get("missing")
	require.True(t, errors.Is(err, types.ErrUnknownSchema))

	var changed [][]string
	r.OnChange(func(names []string) { changed = append(changed, names) })

	writeSchema(t, dir, "signup.yaml", "fields:\n  email:\n    rules: required|email\n")
	writeSchema(t, dir, "contact.yaml", "fields:\n  message:\n    rules: required\n")
	require.NoError(t, r.Reload())
	require.Equal(t, []string{"contact", "signup"}, r.Names())
	require.Equal(t, [][]string{{"contact", "signup"}}, changed)

	d, _ = r.Get("signup")
	require.Equal(t, "required|email", d.Extract().Rules["email"])

	// A broken file keeps the previous definitions.
	writeSchema(t, dir, "signup.yaml", "fields:\n  email:\n    rules: shiny\n")
	require.ErrorIs(t, r.Reload(), types.ErrInvalidSchema)
	d, _ = r.Get("signup")
	require.Equal(t, "required|email", d.Extract().Rules["email"])
	require.Len(t, changed, 1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.SchemaReloads))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SchemaReloadErrors))
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "signup.yaml", "fields:\n  email:\n    rules: required\n")

	r, err := NewRegistry(dir)
	require.NoError(t, err)
	defer r.Stop()

	var mu sync.Mutex
	var seen []string
	r.OnChange(func(names []string) {
		mu.Lock()
		seen = append(seen, names...)
		mu.Unlock()
	})
	require.NoError(t, r.Watch())

	writeSchema(t, dir, "contact.yaml", "fields:\n  message:\n    rules: required\n")

	require.Eventually(t, func() bool {
		_, err := r.Get("contact")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, "contact")
}

func TestRegistry_StopTwice(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Watch())
	r.Stop()
	r.Stop()
}
