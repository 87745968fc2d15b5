package accessory

import (
	"sync"

	hmdns "github.com/hashicorp/mdns"
	"github.com/openhap/hapd/pkg/hap"
	"github.com/openhap/hapd/pkg/hap/mdns"
)

// announcer keeps the mDNS record in sync with the pairing state. The
// hashicorp server can't update TXT in place, so a status change restarts
// the announce.
type announcer struct {
	name     string
	model    string
	category string
	port     int
	device   *hap.Device

	mu  sync.Mutex
	srv *hmdns.Server
}

// UpdateStatus re-announces with the right sf flag. A true status matters,
// or the device may show offline in Apple Home.
func (a *announcer) UpdateStatus(paired bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.srv != nil {
		_ = a.srv.Shutdown()
		a.srv = nil
	}

	srv, err := mdns.NewServer(a.name, a.port, nil, a.txt(paired))
	if err != nil {
		log.Warn().Err(err).Msg("[hap] mdns announce")
		return
	}

	a.srv = srv
}

func (a *announcer) txt(paired bool) []string {
	sf := hap.StatusNotPaired
	if paired {
		sf = hap.StatusPaired
	}
	return []string{
		hap.TXTConfigNumber + "=1",
		hap.TXTDeviceID + "=" + a.device.ID,
		hap.TXTModel + "=" + a.model,
		hap.TXTProtoVersion + "=1.1",
		hap.TXTStateNumber + "=1",
		hap.TXTCategory + "=" + a.category,
		hap.TXTFeatureFlags + "=0",
		hap.TXTStatusFlags + "=" + sf,
	}
}
