package mediatools

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
)

// ValidateFragmentedMP4 checks that data is a structurally sound fragmented
// MP4: a parseable moov initialization segment followed by at least one
// moof+mdat fragment. Intended for tests and debug artifact verification;
// the delivery path trusts the muxer.
func ValidateFragmentedMP4(data []byte) error {
	var sawInit, sawFragment bool

	rest := data
	for len(rest) >= 8 {
		boxSize := binary.BigEndian.Uint32(rest[:4])
		boxType := string(rest[4:8])
		if boxSize < 8 || uint64(boxSize) > uint64(len(rest)) {
			return fmt.Errorf("truncated %s box", boxType)
		}
		box := rest[:boxSize]

		switch boxType {
		case "moov":
			var init fmp4.Init
			if err := init.Unmarshal(bytes.NewReader(box)); err != nil {
				return fmt.Errorf("parsing moov: %w", err)
			}
			if len(init.Tracks) == 0 {
				return fmt.Errorf("moov contains no tracks")
			}
			sawInit = true

		case "moof":
			if !sawInit {
				return fmt.Errorf("moof before moov")
			}
			// A fragment is a moof+mdat pair.
			if uint64(len(rest)) < uint64(boxSize)+8 {
				return fmt.Errorf("moof without following mdat")
			}
			mdatSize := binary.BigEndian.Uint32(rest[boxSize : boxSize+4])
			if string(rest[boxSize+4:boxSize+8]) != "mdat" {
				return fmt.Errorf("moof not followed by mdat")
			}
			if uint64(len(rest)) < uint64(boxSize)+uint64(mdatSize) {
				return fmt.Errorf("truncated mdat box")
			}
			var parts fmp4.Parts
			if err := parts.Unmarshal(rest[:uint64(boxSize)+uint64(mdatSize)]); err != nil {
				return fmt.Errorf("parsing fragment: %w", err)
			}
			sawFragment = true
			rest = rest[uint64(boxSize)+uint64(mdatSize):]
			continue
		}

		rest = rest[boxSize:]
	}

	if !sawInit {
		return fmt.Errorf("no moov box found")
	}
	if !sawFragment {
		return fmt.Errorf("no moof+mdat fragment found")
	}
	return nil
}
