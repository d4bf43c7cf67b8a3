package kvtab

import (
	"errors"
	"testing"
)

func TestClient_Lifecycle(t *testing.T) {
	var starts, stops int
	c := NewClient("test", ClientOptions{
		Start: func() error { starts++; return nil },
		Stop:  func() error { stops++; return nil },
	})
	if c.Name() != "test" {
		t.Fatalf("Name = %q", c.Name())
	}
	if err := c.Check(); !errors.Is(err, ErrClientNotStarted) {
		t.Fatalf("Check before Start = %v, wanted ErrClientNotStarted", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrClientNotStarted) {
		t.Fatalf("Stop before Start = %v, wanted ErrClientNotStarted", err)
	}

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start = %v, wanted nil", err)
	}
	if starts != 1 {
		t.Fatalf("start hook ran %d times, wanted 1", starts)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check = %v, wanted nil", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); !errors.Is(err, ErrClientStopped) {
		t.Fatalf("second Stop = %v, wanted ErrClientStopped", err)
	}
	if err := c.Start(); !errors.Is(err, ErrClientStopped) {
		t.Fatalf("Start after Stop = %v, wanted ErrClientStopped", err)
	}
	if err := c.Check(); !errors.Is(err, ErrClientStopped) {
		t.Fatalf("Check after Stop = %v, wanted ErrClientStopped", err)
	}
	if stops != 1 {
		t.Fatalf("stop hook ran %d times, wanted 1", stops)
	}
}

func TestClient_StartFailureCanBeRetried(t *testing.T) {
	fail := true
	c := NewClient("flaky", ClientOptions{
		Start: func() error {
			if fail {
				return errors.New("no network")
			}
			return nil
		},
	})
	if err := c.Start(); err == nil {
		t.Fatalf("Start succeeded, wanted failure")
	}
	fail = false
	if err := c.Start(); err != nil {
		t.Fatalf("Start = %v, wanted nil", err)
	}
}

func TestClient_NilIsAlwaysUsable(t *testing.T) {
	var c *Client
	if err := c.Check(); err != nil {
		t.Fatalf("nil Check = %v, wanted nil", err)
	}
}
