// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// testPacket builds a decoded SRC_CAP record with one fixed 5V/3A PDO
func testPacket(t *testing.T, seq uint32, vbusMV, vbusMA uint16) *snooper.DecodedPacket {
	t.Helper()
	h := snooper.NewHeader(uint8(snooper.DataSourceCapabilities), 1, false, 2,
		snooper.Revision30, snooper.PowerRoleSource, snooper.DataRoleDFP)
	msg := binary.LittleEndian.AppendUint16(nil, uint16(h))
	msg = binary.LittleEndian.AppendUint32(msg, 0x0001912C)

	p := snooper.NewPacket(seq, snooper.NewFrameType(snooper.SOP, snooper.PolarityCC2, 1, false, false), msg)
	p.VbusVoltage = vbusMV
	p.VbusCurrent = vbusMA
	p.Seal()

	dp, err := snooper.Decode(p.Bytes())
	require.NoError(t, err)
	return dp
}

// ============================================================
// PCAP Tests
// ============================================================

func TestPCAPWriter(t *testing.T) {
	var buf bytes.Buffer
	base := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	w, err := NewPCAPWriter(&buf, PCAPOptions{Base: base})
	require.NoError(t, err)
	for seq := uint32(1); seq <= 3; seq++ {
		require.NoError(t, w.Write(testPacket(t, seq, 5000, 100)))
	}
	assert.Equal(t, 3, w.Count())

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, LinkTypeUser0, r.LinkType())

	for i := 0; i < 3; i++ {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Len(t, data, 6, "header plus one data object")
		want := base.Add(time.Duration(i) * time.Millisecond)
		assert.True(t, want.Equal(ci.Timestamp), "packet %d at %s, want %s", i, ci.Timestamp, want)
	}
}

func TestPCAPWriter_FullRecordAndStamp(t *testing.T) {
	var buf bytes.Buffer
	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	stampedAt := time.Date(2025, 3, 2, 1, 2, 3, 4*int(time.Millisecond), time.UTC)

	w, err := NewPCAPWriter(&buf, PCAPOptions{Base: base, Stamped: true, FullRecord: true})
	require.NoError(t, err)
	require.NoError(t, w.Write(testPacket(t, snooper.MonthMillis(stampedAt), 5000, 100)))

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Len(t, data, snooper.PacketSize)
	assert.True(t, stampedAt.Equal(ci.Timestamp), "got %s", ci.Timestamp)
}

// ============================================================
// CBOR Tests
// ============================================================

func TestCBOREncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewCBOREncoder(&buf)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(testPacket(t, 1, 5000, 100)))
	require.NoError(t, enc.Encode(testPacket(t, 2, 9000, 2000)))

	summaries, err := DecodeSummaries(&buf)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	s := summaries[0]
	assert.Equal(t, uint32(1), s.Sequence)
	assert.Equal(t, "SOP", s.Kind)
	assert.Equal(t, "Data", s.Category)
	assert.Equal(t, "SRC_CAP", s.Message)
	assert.Equal(t, uint8(2), s.MessageID)
	assert.Equal(t, []uint32{0x0001912C}, s.Objects)
	assert.True(t, s.CRCValid)
	assert.Empty(t, s.Flags)
	assert.Equal(t, uint16(9000), summaries[1].VbusVoltage)
}

// ============================================================
// Plot Tests
// ============================================================

func testSamples(t *testing.T) []Sample {
	samples := make([]Sample, 0, 20)
	for i := 0; i < 20; i++ {
		samples = append(samples, SampleOf(i, testPacket(t, uint32(i), uint16(5000+i*100), 1500)))
	}
	return samples
}

func TestSampleOf(t *testing.T) {
	s := SampleOf(3, testPacket(t, 9, 20000, 3250))
	assert.Equal(t, 3, s.Index)
	assert.Equal(t, uint32(9), s.Sequence)
	assert.InDelta(t, 20.0, s.Voltage, 1e-9)
	assert.InDelta(t, 3.25, s.Current, 1e-9)
}

func TestPlotVBUS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbus.png")
	require.NoError(t, PlotVBUS(testSamples(t), "VBUS", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, PlotVBUS(nil, "empty", path))
}

func TestRenderVBUSChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderVBUSChart(testSamples(t), "VBUS capture", &buf))

	html := buf.String()
	assert.True(t, strings.Contains(html, "VBUS capture"))
	assert.True(t, strings.Contains(html, "Voltage (V)"))
}
