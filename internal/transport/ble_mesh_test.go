package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/skobkin/resqrelay/internal/bluetoothutil"
	"tinygo.org/x/bluetooth"
)

type fakeAdvertisement struct {
	configures []bluetooth.AdvertisementOptions
	starts     int
	stops      int
	startErr   error
}

func (a *fakeAdvertisement) Configure(options bluetooth.AdvertisementOptions) error {
	a.configures = append(a.configures, options)
	return nil
}

func (a *fakeAdvertisement) Start() error {
	if a.startErr != nil {
		return a.startErr
	}
	a.starts++
	return nil
}

func (a *fakeAdvertisement) Stop() error {
	a.stops++
	return nil
}

func newTestBroadcaster(adv *fakeAdvertisement) *BLEBroadcaster {
	b := NewBLEBroadcaster("hci0")
	b.newAdvertisement = func() (meshAdvertisement, error) { return adv, nil }

	return b
}

func TestMeshPayloads(t *testing.T) {
	header := bytes.Repeat([]byte{0x01}, minMeshPayloadLen)
	full := bytes.Repeat([]byte{0x02}, maxMeshPayloadLen)

	tests := []struct {
		name     string
		elements []bluetooth.ManufacturerDataElement
		want     int
	}{
		{name: "none", want: 0},
		{name: "header only", elements: []bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID, Data: header}}, want: 1},
		{name: "full payload", elements: []bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID, Data: full}}, want: 1},
		{name: "foreign company", elements: []bluetooth.ManufacturerDataElement{{CompanyID: 0x004C, Data: full}}, want: 0},
		{name: "too short", elements: []bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID, Data: header[:minMeshPayloadLen-1]}}, want: 0},
		{name: "too long", elements: []bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID, Data: append(full, 0x00)}}, want: 0},
		{name: "empty", elements: []bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID}}, want: 0},
		{name: "mixed", elements: []bluetooth.ManufacturerDataElement{
			{CompanyID: 0x0059, Data: full},
			{CompanyID: bluetoothutil.MeshCompanyID, Data: full},
		}, want: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := meshPayloads(tc.elements)
			if len(got) != tc.want {
				t.Fatalf("expected %d payloads, got %d", tc.want, len(got))
			}
		})
	}
}

func TestMeshPayloadsCopiesData(t *testing.T) {
	data := bytes.Repeat([]byte{0x07}, minMeshPayloadLen)
	got := meshPayloads([]bluetooth.ManufacturerDataElement{{CompanyID: bluetoothutil.MeshCompanyID, Data: data}})
	data[0] = 0xFF
	if got[0][0] != 0x07 {
		t.Fatalf("payload must not alias the scan buffer")
	}
}

func TestAdvertiseUsesManufacturerDataOnly(t *testing.T) {
	adv := &fakeAdvertisement{}
	b := newTestBroadcaster(adv)
	payload := bytes.Repeat([]byte{0x03}, maxMeshPayloadLen)

	if err := b.Advertise(context.Background(), payload); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if len(adv.configures) != 1 {
		t.Fatalf("expected one configure, got %d", len(adv.configures))
	}
	opts := adv.configures[0]
	if len(opts.ServiceUUIDs) != 0 {
		t.Fatalf("service UUIDs do not fit next to the payload: %v", opts.ServiceUUIDs)
	}
	if len(opts.ManufacturerData) != 1 || !bytes.Equal(opts.ManufacturerData[0].Data, payload) {
		t.Fatalf("unexpected manufacturer data %+v", opts.ManufacturerData)
	}
	if got := meshAdvertisingDataLen(len(payload)); got > legacyAdvertisingMaxLen {
		t.Fatalf("advertising data is %d bytes, limit %d", got, legacyAdvertisingMaxLen)
	}
}

func TestAdvertiseRejectsOversizedPayload(t *testing.T) {
	adv := &fakeAdvertisement{}
	b := newTestBroadcaster(adv)

	if err := b.Advertise(context.Background(), make([]byte, maxMeshPayloadLen+1)); err == nil {
		t.Fatalf("expected oversized payload to fail")
	}
	if len(adv.configures) != 0 {
		t.Fatalf("oversized payload must not reach the adapter")
	}
}

func TestAdvertiseReusesConfiguredPayload(t *testing.T) {
	adv := &fakeAdvertisement{}
	b := newTestBroadcaster(adv)
	first := bytes.Repeat([]byte{0x01}, minMeshPayloadLen)
	second := bytes.Repeat([]byte{0x02}, minMeshPayloadLen)
	ctx := context.Background()

	steps := []struct {
		name       string
		do         func() error
		configures int
		starts     int
	}{
		{name: "first payload", do: func() error { return b.Advertise(ctx, first) }, configures: 1, starts: 1},
		{name: "same payload while advertising", do: func() error { return b.Advertise(ctx, first) }, configures: 1, starts: 1},
		{name: "stop", do: b.StopAdvertising, configures: 1, starts: 1},
		{name: "same payload after stop", do: func() error { return b.Advertise(ctx, first) }, configures: 1, starts: 2},
		{name: "new payload", do: func() error { return b.Advertise(ctx, second) }, configures: 2, starts: 3},
	}

	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if len(adv.configures) != step.configures || adv.starts != step.starts {
			t.Fatalf("%s: configures=%d starts=%d, want %d/%d", step.name, len(adv.configures), adv.starts, step.configures, step.starts)
		}
	}
}

func TestAdvertiseStartFailureAllowsRetry(t *testing.T) {
	adv := &fakeAdvertisement{startErr: errors.New("org.bluez.Error.Failed")}
	b := newTestBroadcaster(adv)
	payload := bytes.Repeat([]byte{0x05}, minMeshPayloadLen)

	if err := b.Advertise(context.Background(), payload); err == nil {
		t.Fatalf("expected start failure")
	}
	adv.startErr = nil
	if err := b.Advertise(context.Background(), payload); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if adv.starts != 1 {
		t.Fatalf("expected the retry to start the advertisement, starts=%d", adv.starts)
	}
}
