package session

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	in := State{
		Identity: &Identity{
			ID:          42,
			Role:        RoleElevated,
			DisplayName: "Grace Hopper",
			Username:    "grace",
			Email:       "grace@example.com",
			IsActive:    true,
			ExpiresAt:   1_900_000_000,
		},
		Initialized: true,
		Phase:       PhaseSettled,
		UpdatedAt:   123456789,
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSnapshotAnonymousRoundTrip(t *testing.T) {
	in := State{Loading: true, Phase: PhaseChecking, UpdatedAt: 9}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Nil(t, out.Identity)
	require.Equal(t, in, out)
}

func TestDecodeV1HasNoExpiry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(snapshotFormatVersionV1)
	buf.WriteByte(flagIdentity | flagInitialized)
	buf.WriteByte(byte(PhaseSettled))
	buf.WriteByte(byte(RoleStandard))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int64(5)))
	for _, s := range []string{"Linus", "linus", "l@x.io"} {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int64(77)))

	st, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Identity.ID)
	require.Equal(t, int64(0), st.Identity.ExpiresAt)
	require.Equal(t, int64(77), st.UpdatedAt)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	valid, err := Encode(State{Identity: &Identity{ID: 1}, Initialized: true, Phase: PhaseSettled})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":         {},
		"bad version":   {99},
		"truncated":     valid[:len(valid)-3],
		"trailing":      append(append([]byte{}, valid...), 0),
		"invalid phase": append([]byte{snapshotFormatVersionCurrent, 0, 9}, valid[3:]...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.ErrorIs(t, err, ErrSnapshotCorrupt)
		})
	}
}

func TestEncodeRejectsOversizedField(t *testing.T) {
	_, err := Encode(State{Identity: &Identity{Email: strings.Repeat("e", 256)}})
	require.Error(t, err)
}

func FuzzSnapshotDecode(f *testing.F) {
	encoded, err := Encode(State{
		Identity:    &Identity{ID: 1, DisplayName: "fuzz"},
		Initialized: true,
		Phase:       PhaseSettled,
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{snapshotFormatVersionCurrent})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		st, err := Decode(data)
		if err != nil {
			return
		}
		_, _ = Encode(st)
	})
}
