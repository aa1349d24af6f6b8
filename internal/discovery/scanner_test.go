// internal/discovery/scanner_test.go
package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	kind      string
	available bool
	ports     []*Port
	err       error
}

func (f *fakeScanner) Scan(context.Context) ([]*Port, error) { return f.ports, f.err }
func (f *fakeScanner) Kind() string                          { return f.kind }
func (f *fakeScanner) IsAvailable() bool                     { return f.available }

func newManager() *Manager {
	m := NewManager(nil)
	m.Register(&fakeScanner{kind: "serial", available: true, ports: []*Port{{Kind: "serial", Name: "/dev/ttyUSB0"}}})
	m.Register(&fakeScanner{kind: "USB", available: false})
	m.Register(&fakeScanner{kind: "udp", available: true, err: errors.New("no route")})
	return m
}

func Test_ManagerAvailable(t *testing.T) {
	assert.Equal(t, []string{"serial", "udp"}, newManager().Available())
}

func Test_ManagerScanAll(t *testing.T) {
	ports := newManager().ScanAll(context.Background())
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)

	assert.NotNil(t, NewManager(nil).ScanAll(context.Background()))
}

func Test_ManagerScanKind(t *testing.T) {
	m := newManager()

	ports, err := m.ScanKind(context.Background(), "SERIAL")
	require.NoError(t, err)
	assert.Len(t, ports, 1)

	_, err = m.ScanKind(context.Background(), "usb")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = m.ScanKind(context.Background(), "bluetooth")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = m.ScanKind(context.Background(), "udp")
	assert.EqualError(t, err, "no route")
}
