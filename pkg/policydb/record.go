package policydb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var ErrMalformedRecord = errors.New("malformed policy record")

// ProfileEntry holds what is known about one profile of a device.
type ProfileEntry struct {
	Policy protocol.ConnectionPolicy `json:"policy"`
	// LastConnected orders connections across devices. Zero means never connected.
	LastConnected uint64 `json:"last_connected,omitempty"`
	// Active is set when the profile connects and cleared when the user disconnects it.
	Active bool `json:"active,omitempty"`
}

// Record is the persisted state of one device.
type Record struct {
	Device   protocol.Device                   `json:"device"`
	Profiles map[protocol.Profile]ProfileEntry `json:"profiles"`
}

func newRecord(device protocol.Device) *Record {
	return &Record{Device: device, Profiles: make(map[protocol.Profile]ProfileEntry)}
}

func (r *Record) clone() *Record {
	c := newRecord(r.Device)
	for p, e := range r.Profiles {
		c.Profiles[p] = e
	}
	return c
}

func (r *Record) lastConnected() uint64 {
	var last uint64
	for _, e := range r.Profiles {
		if e.LastConnected > last {
			last = e.LastConnected
		}
	}
	return last
}

// Field numbers of the record encoding.
const (
	fieldDevice  protowire.Number = 1
	fieldProfile protowire.Number = 2

	fieldProfileID     protowire.Number = 1
	fieldPolicy        protowire.Number = 2
	fieldLastConnected protowire.Number = 3
	fieldActive        protowire.Number = 4
)

// MarshalBinary encodes r in protobuf wire format.
func (r *Record) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldDevice, protowire.BytesType)
	b = protowire.AppendString(b, r.Device.String())
	for _, p := range protocol.Profiles {
		e, ok := r.Profiles[p]
		if !ok {
			continue
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldProfileID, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(p))
		entry = protowire.AppendTag(entry, fieldPolicy, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(e.Policy))
		if e.LastConnected != 0 {
			entry = protowire.AppendTag(entry, fieldLastConnected, protowire.VarintType)
			entry = protowire.AppendVarint(entry, e.LastConnected)
		}
		if e.Active {
			entry = protowire.AppendTag(entry, fieldActive, protowire.VarintType)
			entry = protowire.AppendVarint(entry, protowire.EncodeBool(true))
		}
		b = protowire.AppendTag(b, fieldProfile, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary. Unknown fields are skipped.
func (r *Record) UnmarshalBinary(data []byte) error {
	r.Profiles = make(map[protocol.Profile]ProfileEntry)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldDevice && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
			}
			device, err := protocol.ParseDevice(s)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrMalformedRecord, err)
			}
			r.Device = device
			data = data[n:]
		case num == fieldProfile && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
			}
			p, e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			r.Profiles[p] = e
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !r.Device.Valid() {
		return fmt.Errorf("%w: missing device", ErrMalformedRecord)
	}
	return nil
}

func decodeEntry(data []byte) (protocol.Profile, ProfileEntry, error) {
	var profile protocol.Profile
	var entry ProfileEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, entry, fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, entry, fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, entry, fmt.Errorf("%w: %s", ErrMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldProfileID:
			profile = protocol.Profile(v)
		case fieldPolicy:
			entry.Policy = protocol.ConnectionPolicy(v)
		case fieldLastConnected:
			entry.LastConnected = v
		case fieldActive:
			entry.Active = protowire.DecodeBool(v)
		}
	}
	if _, ok := profileSet[profile]; !ok {
		return 0, entry, fmt.Errorf("%w: unknown profile %d", ErrMalformedRecord, int(profile))
	}
	return profile, entry, nil
}

var profileSet = func() map[protocol.Profile]struct{} {
	s := make(map[protocol.Profile]struct{})
	for _, p := range protocol.Profiles {
		s[p] = struct{}{}
	}
	return s
}()
