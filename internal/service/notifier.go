package service

import (
	"context"
	"sync"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/chaterr"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

const (
	notificationTitle   = "Error"
	notificationVariant = "destructive"

	msgImageFailure  = "Gagal memproses gambar - coba dengan format JPG/PNG yang lebih kecil"
	msgTimeout       = "Request timeout - coba lagi dengan gambar yang lebih kecil atau tanpa gambar"
	msgMisconfigured = "Server lagi bermasalah (konfigurasi API). Ini bukan salahmu, coba lagi nanti ya!"
	msgRateLimited   = "Terlalu banyak permintaan - tunggu sebentar lalu coba lagi ya!"
	msgGeneric       = "Gagal mengirim pesan. Coba lagi ya!"
)

// Notifier receives the single user-facing notification raised by a failed send.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) {
	logger.WithFields(logger.Fields{
		"kind":    n.Kind,
		"variant": n.Variant,
	}).Warn(n.Description)
}

// RecordingNotifier keeps every notification in memory.
type RecordingNotifier struct {
	mu            sync.Mutex
	notifications []model.Notification
}

func (r *RecordingNotifier) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *RecordingNotifier) Notifications() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// NotificationFor maps an error kind to the message shown to the user. Raw
// upstream status and body never reach the description.
func NotificationFor(kind chaterr.Kind) model.Notification {
	var desc string
	switch kind {
	case chaterr.KindImageDecode, chaterr.KindImageProcessing:
		desc = msgImageFailure
	case chaterr.KindTimeout:
		desc = msgTimeout
	case chaterr.KindServerMisconfigured:
		desc = msgMisconfigured
	case chaterr.KindRateLimited:
		desc = msgRateLimited
	default:
		desc = msgGeneric
	}
	return model.Notification{
		Title:       notificationTitle,
		Description: desc,
		Variant:     notificationVariant,
		Kind:        string(kind),
	}
}
