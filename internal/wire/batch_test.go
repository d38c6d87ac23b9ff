package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatch(t *testing.T) {
	b := Batch{
		InterfaceName: "eth0",
		BatchTS:       time.Now().UTC().Truncate(time.Microsecond),
		Frames: []Frame{
			{Interface: "eth0", SrcMAC: MAC{1, 2, 3, 4, 5, 6}, EtherType: 0x0800},
			{Interface: "eth0", SrcMAC: MAC{7, 8, 9, 10, 11, 12}, EtherType: 0x0806},
		},
	}

	encoded := b.Encode()
	decoded, err := DecodeBatch(encoded)
	require.NoError(t, err)

	assert.Equal(t, b.InterfaceName, decoded.InterfaceName)
	assert.Equal(t, b.BatchTS, decoded.BatchTS)
	require.Len(t, decoded.Frames, 2)
	assert.Equal(t, b.Frames[0].SrcMAC, decoded.Frames[0].SrcMAC)
	assert.Equal(t, b.Frames[1].EtherType, decoded.Frames[1].EtherType)
}

func TestEncodeDecodeEmptyBatch(t *testing.T) {
	b := Batch{InterfaceName: "eth0", BatchTS: time.Now().UTC()}
	decoded, err := DecodeBatch(b.Encode())
	require.NoError(t, err)
	assert.Empty(t, decoded.Frames)
}

func TestDecodeBatchRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeBatch([]byte{7})
	assert.Error(t, err)
}
