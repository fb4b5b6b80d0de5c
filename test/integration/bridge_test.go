//go:build integration

package integration

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/mbocsi/wearbridge/bridge"
	"github.com/mbocsi/wearbridge/client"
	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/service"
)

func checkerboard() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 0xff, A: 0xff})
			} else {
				img.Set(x, y, color.NRGBA{B: 0xff, A: 0xff})
			}
		}
	}
	return img
}

func TestHandheldSyncsWearableReads(t *testing.T) {
	hub := startHub(t)
	phone := connectNode(t, hub.TCPAddr, "phone")
	watch := connectNode(t, hub.TCPAddr, "watch")
	ctx := testContext(t)

	if _, err := phone.Bridge.SyncData(ctx, "/data", proto.NewDataMap().PutString("data", "myDataSync").PutInt("dataInt", 9)); err != nil {
		t.Fatalf("SyncData failed: %v", err)
	}
	if _, err := phone.Bridge.SyncDataArray(ctx, "/dataarray", []*proto.DataMap{
		proto.NewDataMap().PutString("data", "myDataArraySync").PutInt("dataInt", 4),
		proto.NewDataMap().PutString("data", "myDataArraySync2").PutInt("dataInt", 5),
	}); err != nil {
		t.Fatalf("SyncDataArray failed: %v", err)
	}
	if _, err := phone.Bridge.SyncBitmap(ctx, "/bitmap", "image", checkerboard()); err != nil {
		t.Fatalf("SyncBitmap failed: %v", err)
	}

	m, err := watch.Bridge.GetData(ctx, "/data")
	if err != nil {
		t.Fatalf("GetData failed: %v", err)
	}
	if s, _ := m.GetString("data"); s != "myDataSync" {
		t.Errorf("Expected myDataSync, got %q", s)
	}
	if n, _ := m.GetInt("dataInt"); n != 9 {
		t.Errorf("Expected 9, got %d", n)
	}

	items, err := watch.Bridge.GetDataArray(ctx, "/dataarray")
	if err != nil {
		t.Fatalf("GetDataArray failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if n, _ := items[1].GetInt("dataInt"); n != 5 {
		t.Errorf("Expected second item dataInt 5, got %d", n)
	}

	img, err := watch.Bridge.GetBitmap(ctx, "/bitmap", "image")
	if err != nil {
		t.Fatalf("GetBitmap failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("Expected 8px bitmap, got %v", img.Bounds())
	}
	if r, _, _, _ := img.At(0, 0).RGBA(); r != 0xffff {
		t.Errorf("Expected red top-left pixel")
	}

	all, err := watch.Bridge.GetAllData(ctx, "")
	if err != nil {
		t.Fatalf("GetAllData failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 items across the network, got %d", len(all))
	}

	if _, err := watch.Bridge.GetData(ctx, "/data", bridge.Locally()); !errors.Is(err, proto.ErrNotFound) {
		t.Errorf("Expected not found reading the watch's own items, got %v", err)
	}
}

func TestDataChangesReachBoundNode(t *testing.T) {
	hub := startHub(t)
	phone := connectNode(t, hub.TCPAddr, "phone")
	watch := connectNode(t, hub.TCPAddr, "watch")
	ctx := testContext(t)

	binding, err := watch.Bridge.Bind(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Close()
	changes, cancel := watch.Bridge.Data().Subscribe()
	defer cancel()

	if _, err := phone.Bridge.SyncData(ctx, "/data", proto.NewDataMap().PutString("data", "myDataSyncUpdated").PutInt("dataInt", 42)); err != nil {
		t.Fatal(err)
	}
	change := receive(t, changes)
	if change.Type != proto.DataChanged || change.Path() != "/data" || change.URI.Authority != phone.Client.Id() {
		t.Errorf("Unexpected change %+v", change)
	}
	if n, _ := change.Map.GetInt("dataInt"); n != 42 {
		t.Errorf("Expected dataInt 42, got %d", n)
	}

	if _, err := phone.Bridge.DeleteData(ctx, "/data"); err != nil {
		t.Fatal(err)
	}
	if change := receive(t, changes); change.Type != proto.DataDeleted {
		t.Errorf("Expected deletion, got %v", change.Type)
	}

	binding.Close()
	if _, err := phone.Bridge.SyncData(ctx, "/data", proto.NewDataMap().PutInt("dataInt", 1)); err != nil {
		t.Fatal(err)
	}
	expectNothing(t, changes)
}

func TestMessagesReachListenerService(t *testing.T) {
	hub := startHub(t)
	phone := connectNode(t, hub.TCPAddr, "phone")
	watch := connectNode(t, hub.TCPAddr, "watch")
	ctx := testContext(t)

	woken := make(chan proto.MessageEvent, 1)
	svc := service.New(watch.Client,
		service.WithBridge(watch.Bridge),
		service.WithLogger(quietLogger),
		service.WithHooks(service.Hooks{OnMessage: func(ev proto.MessageEvent) {
			select {
			case woken <- ev:
			default:
			}
		}}),
	)
	messages, cancel := watch.Bridge.Messages().Subscribe()
	defer cancel()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()
	waitRegistered(t, func() error {
		return phone.Bridge.SendMessage(ctx, "/ping", nil, "")
	}, woken)

	if err := phone.Bridge.SendMessage(ctx, "/message", proto.NewDataMap().PutString("data", "hi"), ""); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	var ev proto.MessageEvent
	for ev = receive(t, messages); ev.Path != "/message"; ev = receive(t, messages) {
	}
	if ev.SourceNodeID != phone.Client.Id() {
		t.Errorf("Expected source %s, got %s", phone.Client.Id(), ev.SourceNodeID)
	}
	m, err := proto.DataMapFromBytes(ev.Data)
	if err != nil {
		t.Fatalf("Undecodable message payload: %v", err)
	}
	if s, _ := m.GetString("data"); s != "hi" {
		t.Errorf("Expected hi, got %q", s)
	}
}

func TestCapabilityRouting(t *testing.T) {
	hub := startHub(t)
	phone := connectNode(t, hub.TCPAddr, "phone")
	watch := connectNode(t, hub.TCPAddr, "watch")
	ctx := testContext(t)

	binding, err := phone.Bridge.BindCapability(ctx, "voice_transcription")
	if err != nil {
		t.Fatalf("BindCapability failed: %v", err)
	}
	defer binding.Close()
	caps, cancel := phone.Bridge.Capabilities().Subscribe()
	defer cancel()

	transcriber := connectNode(t, hub.TCPAddr, "transcriber", client.WithCapabilities("voice_transcription"))
	info := receive(t, caps)
	if info.Name != "voice_transcription" || len(info.Nodes) != 1 || info.Nodes[0].ID != transcriber.Client.Id() {
		t.Errorf("Unexpected capability info %+v", info)
	}

	ids, err := phone.Bridge.Nodes(ctx, "voice_transcription")
	if err != nil || len(ids) != 1 || ids[0] != transcriber.Client.Id() {
		t.Fatalf("Expected only the transcriber, got %v, %v", ids, err)
	}

	watchBinding, _ := watch.Bridge.Bind(ctx)
	defer watchBinding.Close()
	watchMessages, cancelWatch := watch.Bridge.Messages().Subscribe()
	defer cancelWatch()
	transcriberBinding, _ := transcriber.Bridge.Bind(ctx)
	defer transcriberBinding.Close()
	transcriberMessages, cancelTranscriber := transcriber.Bridge.Messages().Subscribe()
	defer cancelTranscriber()

	if err := phone.Bridge.SendMessage(ctx, "/transcribe", nil, "voice_transcription"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if ev := receive(t, transcriberMessages); ev.Path != "/transcribe" {
		t.Errorf("Expected /transcribe, got %s", ev.Path)
	}
	expectNothing(t, watchMessages)

	transcriber.Client.Close()
	if info := receive(t, caps); len(info.Nodes) != 0 {
		t.Errorf("Expected capability to lose its node, got %+v", info)
	}
}

func TestMixedTransports(t *testing.T) {
	hub := startHub(t)
	phone := connectNode(t, hub.TCPAddr, "phone")
	watch := connectNodeWith(t, client.NewWebSocketTransport(), hub.WSAddr, "watch")
	ctx := testContext(t)

	binding, _ := watch.Bridge.Bind(ctx)
	defer binding.Close()
	messages, cancel := watch.Bridge.Messages().Subscribe()
	defer cancel()

	if err := phone.Bridge.SendMessage(ctx, "/message", nil, ""); err != nil {
		t.Fatal(err)
	}
	if ev := receive(t, messages); ev.SourceNodeID != phone.Client.Id() {
		t.Errorf("Expected message from phone, got %+v", ev)
	}
	if _, err := phone.Bridge.SyncData(ctx, "/data", proto.NewDataMap().PutInt("dataInt", 7)); err != nil {
		t.Fatal(err)
	}
	m, err := watch.Bridge.GetData(ctx, "/data")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := m.GetInt("dataInt"); n != 7 {
		t.Errorf("Expected 7 over websocket, got %d", n)
	}
}

// waitRegistered retries send until the listener has seen a message,
// since Run registers asynchronously.
func waitRegistered(t *testing.T, send func() error, seen <-chan proto.MessageEvent) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if err := send(); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		select {
		case <-seen:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("Listener service never registered")
}
