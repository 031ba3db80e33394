package table

import (
	"testing"
	"time"
)

func TestUpdateSenderCloseDropsBufferedItemsWithoutReceiver(t *testing.T) {
	s := newUpdateSender()

	for i := 0; i < 5; i++ {
		s.Send(&TableUpdate{})
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked: buffered updates with no receiver must be dropped, not sent")
	}

	select {
	case _, ok := <-s.C():
		if ok {
			t.Fatal("expected C() to be closed with no further deliveries")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for C() to close after Close()")
	}
}

func TestUpdateSenderSendAfterCloseIsNoop(t *testing.T) {
	s := newUpdateSender()
	s.Close()
	<-s.C()

	s.Send(&TableUpdate{})
}

func TestUpdateSenderDeliversInOrderBeforeClose(t *testing.T) {
	s := newUpdateSender()
	defer s.Close()

	updates := []*TableUpdate{{Kind: NewBest}, {Kind: Withdrawn}, {Kind: NewBest}}
	for _, u := range updates {
		s.Send(u)
	}

	for i, want := range updates {
		select {
		case got := <-s.C():
			if got != want {
				t.Fatalf("update %d: got %+v, want %+v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}
