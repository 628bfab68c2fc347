package rtp

import "testing"

func annexB(nalus ...[]byte) []byte {
	var buf []byte
	for _, n := range nalus {
		buf = append(buf, 0, 0, 0, 1)
		buf = append(buf, n...)
	}
	return buf
}

func TestSplitAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	au := annexB(sps, pps)

	nalus, err := splitAnnexB(au)
	if err != nil {
		t.Fatal(err)
	}
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if string(nalus[0]) != string(sps) || string(nalus[1]) != string(pps) {
		t.Errorf("unexpected NAL units: %v", nalus)
	}
}

func TestPacketizeSingleNAL(t *testing.T) {
	nalu := []byte{0x65, 0xaa, 0xbb, 0xcc}
	au := annexB(nalu)

	chunks, err := packetizeH264(au, 1400)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !chunks[0].marker {
		t.Error("marker should be set on the only chunk")
	}
	if string(chunks[0].bytes) != string(nalu) {
		t.Errorf("single-NAL chunk should be the NAL verbatim")
	}
}

func TestPacketizeFragmentsOversizedNALU(t *testing.T) {
	nalu := append([]byte{0x65}, make([]byte, 100)...)
	au := annexB(nalu)

	chunks, err := packetizeH264(au, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple FU-A fragments, got %d", len(chunks))
	}
	for i, c := range chunks {
		isLast := i == len(chunks)-1
		if c.marker != isLast {
			t.Errorf("chunk %d: marker = %v, want %v", i, c.marker, isLast)
		}
		if c.bytes[0]&0x1f != naluTypeFU_A {
			t.Errorf("chunk %d: expected FU-A indicator", i)
		}
	}
	// First fragment carries S=1, last carries E=1.
	if chunks[0].bytes[1]&0x80 == 0 {
		t.Error("first fragment should have S bit set")
	}
	if chunks[len(chunks)-1].bytes[1]&0x40 == 0 {
		t.Error("last fragment should have E bit set")
	}
}

func TestDepacketizeSingleNAL(t *testing.T) {
	var d h264Depacketizer
	nalu := []byte{0x65, 1, 2, 3}

	au, ok, err := d.handlePacket(rtpHeader{marker: true, timestamp: 1000, sequence: 1}, nalu)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected access unit on marker packet")
	}
	want := annexB(nalu)
	if string(au) != string(want) {
		t.Errorf("got %x, want %x", au, want)
	}
}

func TestDepacketizeFUAReassembly(t *testing.T) {
	var d h264Depacketizer
	origType := byte(0x05) // original NAL type, NRI = 0
	indicator := (origType & 0xe0) | naluTypeFU_A

	first := []byte{indicator, 0x80 | origType, 0xaa}
	middle := []byte{indicator, origType, 0xbb}
	last := []byte{indicator, 0x40 | origType, 0xcc}

	if _, ok, _ := d.handlePacket(rtpHeader{timestamp: 5, sequence: 1}, first); ok {
		t.Fatal("non-final fragment should not complete an access unit")
	}
	if _, ok, _ := d.handlePacket(rtpHeader{timestamp: 5, sequence: 2}, middle); ok {
		t.Fatal("non-final fragment should not complete an access unit")
	}
	au, ok, err := d.handlePacket(rtpHeader{timestamp: 5, sequence: 3, marker: true}, last)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected access unit on marker packet")
	}

	want := annexB([]byte{origType, 0xaa, 0xbb, 0xcc})
	if string(au) != string(want) {
		t.Errorf("got %x, want %x", au, want)
	}
}

func TestDepacketizeFUAOutOfOrderFails(t *testing.T) {
	var d h264Depacketizer
	indicator := (byte(0x05) & 0xe0) | naluTypeFU_A

	first := []byte{indicator, 0x80 | 0x05, 0xaa}
	skipped := []byte{indicator, 0x05, 0xbb} // sequence jumps by 2, not 1

	if _, _, err := d.handlePacket(rtpHeader{timestamp: 5, sequence: 1}, first); err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.handlePacket(rtpHeader{timestamp: 5, sequence: 3}, skipped); err != errFragmentOutOfOrder {
		t.Errorf("expected errFragmentOutOfOrder, got %v", err)
	}
}

func TestDepacketizeSTAPA(t *testing.T) {
	var d h264Depacketizer
	nalu1 := []byte{0x67, 0x01}
	nalu2 := []byte{0x68, 0x02}

	var stap []byte
	stap = appendSTAP(stap, nalu1)
	stap = appendSTAP(stap, nalu2)

	au, ok, err := d.handlePacket(rtpHeader{marker: true, timestamp: 9}, stap)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected access unit on marker packet")
	}
	want := annexB(nalu1, nalu2)
	if string(au) != string(want) {
		t.Errorf("got %x, want %x", au, want)
	}
}

func TestDepacketizeDiscardsStaleAccessUnit(t *testing.T) {
	var d h264Depacketizer
	d.handlePacket(rtpHeader{timestamp: 1}, []byte{0x65, 0xaa})

	// A new timestamp arrives before the previous AU's marker: the stale
	// accumulator must be dropped, not merged into the new one.
	au, ok, err := d.handlePacket(rtpHeader{timestamp: 2, marker: true}, []byte{0x65, 0xbb})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected access unit on marker packet")
	}
	want := annexB([]byte{0x65, 0xbb})
	if string(au) != string(want) {
		t.Errorf("got %x, want %x", au, want)
	}
}
