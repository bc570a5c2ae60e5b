package notifybus

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hcom.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestListenRegistersEndpointAndWakeDeliversByte(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	bus := NewBus(st)

	ln, port, err := bus.Listen(ctx, "kivo", KindPull)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	if port == 0 {
		t.Fatal("expected a nonzero port")
	}

	ports, err := st.ListNotifyPorts(ctx, "kivo")
	if err != nil {
		t.Fatalf("ListNotifyPorts: %v", err)
	}
	if len(ports) != 1 || ports[0].Port != port {
		t.Fatalf("expected registered endpoint at port %d, got %+v", port, ports)
	}

	woke := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		Accept(conn)
		close(woke)
	}()

	if err := bus.WakeInstances(ctx, []string{"kivo"}); err != nil {
		t.Fatalf("WakeInstances: %v", err)
	}

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wake")
	}
}

func TestWakeInstancesPrunesDeadEndpoint(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	bus := NewBus(st)

	// Register a port nothing is listening on, so the dial fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // immediately free it so nothing answers

	if err := st.UpsertNotifyEndpoint(ctx, "zaro", string(KindPull), deadPort); err != nil {
		t.Fatalf("UpsertNotifyEndpoint: %v", err)
	}

	if err := bus.WakeInstances(ctx, []string{"zaro"}); err != nil {
		t.Fatalf("WakeInstances: %v", err)
	}

	ports, err := st.ListNotifyPorts(ctx, "zaro")
	if err != nil {
		t.Fatalf("ListNotifyPorts: %v", err)
	}
	if len(ports) != 0 {
		t.Errorf("expected dead endpoint pruned, got %+v", ports)
	}
}

func TestUnregisterRemovesEndpoint(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	bus := NewBus(st)

	ln, port, err := bus.Listen(ctx, "kivo", KindPush)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if err := bus.Unregister(ctx, "kivo", KindPush, port); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	ports, err := st.ListNotifyPorts(ctx, "kivo")
	if err != nil {
		t.Fatalf("ListNotifyPorts: %v", err)
	}
	if len(ports) != 0 {
		t.Errorf("expected no registered ports after unregister, got %+v", ports)
	}
}

func TestWakeInstancesIsNoopForInstanceWithNoEndpoints(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	bus := NewBus(st)

	if err := bus.WakeInstances(ctx, []string{"ghost"}); err != nil {
		t.Fatalf("WakeInstances: %v", err)
	}
}
