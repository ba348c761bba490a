package player

import "encoding/binary"

// box is a minimal parsed ISO BMFF (fMP4) box header: [start, end) spans
// the whole box including its 8-byte header.
type box struct {
	boxType string
	start   int
	end     int
}

// containerBoxTypes are walked recursively; every other box type is a leaf
// as far as codec detection cares.
var containerBoxTypes = map[string]bool{
	"moov": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
}

// walkBoxes calls visit for every box found in buf, recursing into known
// container types. It stops walking a level as soon as a box header looks
// truncated or malformed rather than erroring — codec detection is
// best-effort and must never be the reason an init segment fails to play.
func walkBoxes(buf []byte, visit func(b box) bool) {
	const headerLen = 8
	var walk func(data []byte, offset int)
	walk = func(data []byte, offset int) {
		pos := 0
		for pos+headerLen <= len(data) {
			size := int(binary.BigEndian.Uint32(data[pos : pos+4]))
			typ := string(data[pos+4 : pos+8])
			if size < headerLen || pos+size > len(data) {
				return
			}
			b := box{boxType: typ, start: offset + pos, end: offset + pos + size}
			if !visit(b) {
				return
			}
			if containerBoxTypes[typ] {
				walk(data[pos+headerLen:pos+size], offset+pos+headerLen)
			}
			pos += size
		}
	}
	walk(buf, 0)
}

var videoFourCCs = map[string]bool{
	"avc1": true, "avc3": true,
	"hev1": true, "hvc1": true,
	"vp09": true, "av01": true,
}

var audioFourCCs = map[string]bool{
	"mp4a": true, "ac-3": true, "ec-3": true, "opus": true,
}

// detectCodecs performs a one-shot scan of an init segment's stsd boxes,
// mirroring the teacher's one-shot CodecDetector.Process: called once per
// init segment rather than per inbound message, it returns the fourcc of
// the first recognized video and the first recognized audio sample entry.
// Absent or unrecognized entries are returned as "".
func detectCodecs(initSegment []byte) (videoCodec, audioCodec string) {
	walkBoxes(initSegment, func(b box) bool {
		if b.boxType != "stsd" || videoCodec != "" && audioCodec != "" {
			return videoCodec == "" || audioCodec == ""
		}
		// stsd body: 4 bytes version/flags, 4 bytes entry count, then
		// sample entries each starting with a 4-byte size and 4-byte
		// format fourcc.
		body := initSegment[b.start+8 : b.end]
		if len(body) < 16 {
			return videoCodec == "" || audioCodec == ""
		}
		fourcc := string(body[12:16])
		switch {
		case videoCodec == "" && videoFourCCs[fourcc]:
			videoCodec = fourcc
		case audioCodec == "" && audioFourCCs[fourcc]:
			audioCodec = fourcc
		}
		return videoCodec == "" || audioCodec == ""
	})
	return videoCodec, audioCodec
}
