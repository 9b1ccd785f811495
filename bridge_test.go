package usbbridge

import (
	"testing"
	"time"
)

func TestUsbWriteDecodesPayload(t *testing.T) {
	svc, host, _ := connected(t)

	svc.Bridge().UsbWrite(EncodePayload([]byte{0x00, 0xFF, 'A'}))
	waitFor(t, "write", func() bool { return len(host.port().written()) == 1 })

	if got := host.port().written()[0]; string(got) != "\x00\xffA" {
		t.Fatalf("unexpected bytes %q", got)
	}
}

func TestUsbWriteRejectsBadEncoding(t *testing.T) {
	svc, host, content := connected(t)

	svc.Bridge().UsbWrite("not base64!")
	waitFor(t, "invalid payload status", func() bool { return content.hasStatus("Invalid payload") })

	if host.port().writeCalls.Load() != 0 {
		t.Fatal("invalid payload must not reach the port")
	}
}

func TestBridgeIsConnected(t *testing.T) {
	svc, _, _ := connected(t)
	if !svc.Bridge().IsConnected() {
		t.Fatal("expected connected")
	}
	_ = svc.Disconnect(testContext(t))
	if svc.Bridge().IsConnected() {
		t.Fatal("expected disconnected")
	}
}

func TestLoadAssetToWebView(t *testing.T) {
	content := &fakeContent{}
	svc := startService(t, nil, newFakeHost(), content)

	svc.Bridge().LoadAssetToWebView("/index.html")
	waitFor(t, "navigation", func() bool {
		content.mu.Lock()
		defer content.mu.Unlock()
		return len(content.assets) == 1 && content.assets[0] == "/index.html"
	})

	// Content layers without navigation ignore the call.
	plain := startService(t, nil, newFakeHost(), plainContent{})
	plain.Bridge().LoadAssetToWebView("/index.html")
	plain.Bridge().InternalLog("page loaded")
}

func TestDeliveryQueueDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.DeliveryQueue = 1
	svc, err := New(cfg, newFakeHost(), &fakeContent{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	// Not started: nothing drains the queue.
	svc.Bridge().PushStatus("one")
	svc.Bridge().PushStatus("two")
	svc.Bridge().PushData([]byte("three"))

	if got := svc.Metrics().NotificationsDropped.Load(); got != 2 {
		t.Fatalf("expected 2 dropped notifications, got %d", got)
	}
}

func TestPushDataWaitsForQueueSpace(t *testing.T) {
	cfg := testConfig()
	cfg.DeliveryQueue = 1
	cfg.DeliveryWait = time.Second
	content := &fakeContent{}
	svc, err := New(cfg, newFakeHost(), content)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	b := svc.Bridge()

	b.PushStatus("busy")
	go func() {
		time.Sleep(20 * time.Millisecond)
		(<-b.queue)(content)
	}()

	// The frame waits for the slot freed above instead of being dropped.
	b.PushData([]byte("abc"))
	if got := svc.Metrics().NotificationsDropped.Load(); got != 0 {
		t.Fatalf("data frame dropped, %d drops", got)
	}

	// Status updates never wait.
	start := time.Now()
	b.PushStatus("late")
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("status delivery blocked")
	}
	if got := svc.Metrics().NotificationsDropped.Load(); got != 1 {
		t.Fatalf("expected the status update to be dropped, got %d drops", got)
	}

	(<-b.queue)(content)
	if frames := content.dataFrames(); len(frames) != 1 || frames[0] != EncodePayload([]byte("abc")) {
		t.Fatalf("unexpected frames %q", frames)
	}
	waitFor(t, "queued status", func() bool { return content.hasStatus("busy") })
	if content.hasStatus("late") {
		t.Fatal("dropped status was delivered")
	}
}

func TestPushDataDropsAfterWait(t *testing.T) {
	cfg := testConfig()
	cfg.DeliveryQueue = 1
	cfg.DeliveryWait = 20 * time.Millisecond
	svc, err := New(cfg, newFakeHost(), &fakeContent{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	svc.Bridge().PushData([]byte("first"))
	start := time.Now()
	svc.Bridge().PushData([]byte("second"))
	if waited := time.Since(start); waited < 20*time.Millisecond {
		t.Fatalf("frame dropped after %v, before the delivery wait", waited)
	}
	if got := svc.Metrics().NotificationsDropped.Load(); got != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", got)
	}
}
