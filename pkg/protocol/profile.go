package protocol

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Profile identifies a Bluetooth profile managed by a profile service.
type Profile int

const (
	ProfileA2DP Profile = iota + 1
	ProfileHFP
	ProfileHearingAid
	ProfileHAP
	ProfileLEAudio
	ProfileCSIPSetCoordinator
	ProfileVolumeControl
	ProfileBatteryService
)

// Profiles lists every Profile in declaration order.
var Profiles = []Profile{
	ProfileA2DP,
	ProfileHFP,
	ProfileHearingAid,
	ProfileHAP,
	ProfileLEAudio,
	ProfileCSIPSetCoordinator,
	ProfileVolumeControl,
	ProfileBatteryService,
}

var profileNames = map[Profile]string{
	ProfileA2DP:               "a2dp",
	ProfileHFP:                "hfp",
	ProfileHearingAid:         "hearing_aid",
	ProfileHAP:                "hap",
	ProfileLEAudio:            "le_audio",
	ProfileCSIPSetCoordinator: "csip",
	ProfileVolumeControl:      "vcp",
	ProfileBatteryService:     "bas",
}

func (p Profile) String() string {
	if name, ok := profileNames[p]; ok {
		return name
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

func ParseProfile(name string) (Profile, error) {
	canonical := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	for p, n := range profileNames {
		if n == canonical {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: '%s'", ErrUnknownProfile, name)
}

// IsClassicAudio returns true for the BR/EDR audio profiles that LE Audio supersedes.
func (p Profile) IsClassicAudio() bool {
	return p == ProfileA2DP || p == ProfileHFP
}

// IsHearingAid returns true for the hearing-device profiles.
func (p Profile) IsHearingAid() bool {
	return p == ProfileHearingAid || p == ProfileHAP
}

// Service UUIDs advertised by remote devices.
var (
	UUIDAudioSink      = ble.UUID16(0x110B)
	UUIDHandsfree      = ble.UUID16(0x111E)
	UUIDHandsfreeAG    = ble.UUID16(0x111F)
	UUIDHeadset        = ble.UUID16(0x1108)
	UUIDHearingAid     = ble.UUID16(0xFDF0)
	UUIDHearingAccess  = ble.UUID16(0x1854)
	UUIDLEAudio        = ble.UUID16(0x184E)
	UUIDCoordinatedSet = ble.UUID16(0x1846)
	UUIDVolumeControl  = ble.UUID16(0x1844)
	UUIDBatteryService = ble.UUID16(0x180F)
)

var profileUUIDs = map[Profile][]ble.UUID{
	ProfileA2DP:               {UUIDAudioSink},
	ProfileHFP:                {UUIDHandsfree, UUIDHeadset},
	ProfileHearingAid:         {UUIDHearingAid},
	ProfileHAP:                {UUIDHearingAccess},
	ProfileLEAudio:            {UUIDLEAudio},
	ProfileCSIPSetCoordinator: {UUIDCoordinatedSet},
	ProfileVolumeControl:      {UUIDVolumeControl},
	ProfileBatteryService:     {UUIDBatteryService},
}

// UUIDs returns the service UUIDs that indicate a device supports p.
func (p Profile) UUIDs() []ble.UUID {
	return profileUUIDs[p]
}

// HasUUID returns true if uuids indicates support for p.
func HasUUID(uuids []ble.UUID, p Profile) bool {
	for _, u := range profileUUIDs[p] {
		if ContainsUUID(uuids, u) {
			return true
		}
	}
	return false
}

// ContainsUUID returns true if u is in uuids. Unlike ble.Contains, an empty or nil list
// contains nothing.
func ContainsUUID(uuids []ble.UUID, u ble.UUID) bool {
	for _, v := range uuids {
		if v.Equal(u) {
			return true
		}
	}
	return false
}

// ProfilesForUUIDs returns the profiles supported by a device that advertises uuids, in
// declaration order.
func ProfilesForUUIDs(uuids []ble.UUID) []Profile {
	var profiles []Profile
	for _, p := range Profiles {
		if HasUUID(uuids, p) {
			profiles = append(profiles, p)
		}
	}
	return profiles
}

// ParseUUIDs converts textual UUIDs (16-bit short form or 128-bit) into ble.UUIDs. Entries that
// cannot be parsed are skipped.
func ParseUUIDs(values []string) []ble.UUID {
	var uuids []ble.UUID
	for _, v := range values {
		u, err := ble.Parse(v)
		if err != nil {
			continue
		}
		uuids = append(uuids, shorten(u))
	}
	return uuids
}

// baseUUID is the Bluetooth base UUID. ble.UUID stores bytes in little-endian
// order, so the 16-bit field sits at indices 12 and 13.
var baseUUID = ble.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// shorten converts a 128-bit UUID built on the Bluetooth base UUID into its 16-bit form so that
// it compares equal to the constants above.
func shorten(u ble.UUID) ble.UUID {
	if len(u) != 16 {
		return u
	}
	for i := 0; i < 16; i++ {
		if i == 12 || i == 13 {
			continue
		}
		if u[i] != baseUUID[i] {
			return u
		}
	}
	return ble.UUID{u[12], u[13]}
}

func (p Profile) MarshalText() ([]byte, error) {
	if _, ok := profileNames[p]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProfile, int(p))
	}
	return []byte(p.String()), nil
}

func (p *Profile) UnmarshalText(text []byte) error {
	parsed, err := ParseProfile(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UUIDString formats u in the 128-bit form used by BlueZ, e.g.
// "0000110b-0000-1000-8000-00805f9b34fb". 16-bit UUIDs are expanded with the base UUID.
func UUIDString(u ble.UUID) string {
	if len(u) == 2 {
		full := make(ble.UUID, len(baseUUID))
		copy(full, baseUUID)
		full[12], full[13] = u[0], u[1]
		u = full
	}
	if len(u) != 16 {
		return u.String()
	}
	b := ble.Reverse(u)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
