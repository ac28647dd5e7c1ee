package shm

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func createArea(t *testing.T, size int) *Area {
	t.Helper()
	name := fmt.Sprintf("h264-encoder-test-%d-%d", os.Getpid(), time.Now().UnixNano())
	area, err := Create(name, size)
	if err != nil {
		t.Skipf("POSIX shared memory unavailable: %v", err)
	}
	t.Cleanup(func() { area.Close() })
	return area
}

func TestCreateAttachRoundTrip(t *testing.T) {
	producer := createArea(t, 16)

	consumer, err := Attach(producer.Name(), 0)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer consumer.Close()

	if consumer.Size() != 16 {
		t.Fatalf("size = %d, want 16", consumer.Size())
	}
	if _, ok := consumer.TimeStamp(); ok {
		t.Fatal("fresh area reports a timestamp")
	}

	stamp := time.Unix(1700000000, 123456000)
	if err := producer.Lock(); err != nil {
		t.Fatal(err)
	}
	copy(producer.Data(), "0123456789abcdef")
	producer.SetTimeStamp(stamp)
	producer.Unlock()

	if err := consumer.Lock(); err != nil {
		t.Fatal(err)
	}
	got := string(consumer.Data())
	ts, ok := consumer.TimeStamp()
	consumer.Unlock()

	if got != "0123456789abcdef" {
		t.Fatalf("data = %q", got)
	}
	if !ok || !ts.Equal(stamp) {
		t.Fatalf("timestamp = %v (%v), want %v", ts, ok, stamp)
	}
}

func TestWaitWakesOnNotify(t *testing.T) {
	producer := createArea(t, 4)
	consumer, err := Attach(producer.Name(), 0)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer consumer.Close()

	done := make(chan error, 1)
	go func() { done <- consumer.Wait() }()

	// Notify until the waiter is parked and woken.
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			return
		case <-tick.C:
			producer.Notify()
		case <-timeout:
			t.Fatal("Wait did not return after Notify")
		}
	}
}

func TestInterruptUnblocksWait(t *testing.T) {
	area := createArea(t, 4)

	done := make(chan error, 1)
	go func() { done <- area.Wait() }()

	time.Sleep(50 * time.Millisecond)
	area.Interrupt()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("Wait = %v, want ErrInterrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Interrupt")
	}
	if area.Valid() {
		t.Fatal("area still valid after Interrupt")
	}
	if err := area.Wait(); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("second Wait = %v", err)
	}
}

func TestAttachMissing(t *testing.T) {
	_, err := Attach(fmt.Sprintf("h264-encoder-missing-%d", os.Getpid()), 0)
	if err == nil {
		t.Fatal("attached to a missing area")
	}
}

func TestUnlockWithoutLockIsNoop(t *testing.T) {
	area := createArea(t, 4)
	area.Unlock()
	if err := area.Lock(); err != nil {
		t.Fatal(err)
	}
	area.Unlock()
	area.Unlock()
}

func TestLockAfterCloseFails(t *testing.T) {
	area := createArea(t, 4)
	if err := area.Close(); err != nil {
		t.Fatal(err)
	}
	if err := area.Lock(); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Lock = %v, want ErrInterrupted", err)
	}
	// The failed lock must not leave an unlock pending
	area.Unlock()
}
