package h264

import (
	"errors"
	"fmt"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/bits"
)

// http://www.itu.int/rec/T-REC-H.264
// https://webrtc.googlesource.com/src/+/refs/heads/main/common_video/h264/sps_parser.cc

var ErrWrongSPS = errors.New("h264: wrong SPS")

// SPS - only the fields required for picture geometry
type SPS struct {
	ProfileIDC byte
	ProfileIOP byte
	LevelIDC   byte

	ChromaFormatIDC uint32

	widthInMbs       uint32
	heightInMapUnits uint32
	frameMbsOnly     byte

	cropLeft   uint32
	cropRight  uint32
	cropTop    uint32
	cropBottom uint32
}

func (s *SPS) Width() uint16 {
	width := 16 * s.widthInMbs
	crop := s.cropUnitX() * (s.cropLeft + s.cropRight)
	return uint16(width - crop)
}

func (s *SPS) Height() uint16 {
	height := 16 * s.heightInMapUnits
	if s.frameMbsOnly == 0 {
		height *= 2
	}
	crop := s.cropUnitY() * (s.cropTop + s.cropBottom)
	return uint16(height - crop)
}

// cropUnitX and cropUnitY - Table 6-1 and equations 7-19...7-22
func (s *SPS) cropUnitX() uint32 {
	switch s.ChromaFormatIDC {
	case 0, 3:
		return 1
	}
	return 2
}

func (s *SPS) cropUnitY() uint32 {
	unit := uint32(2) - uint32(s.frameMbsOnly)
	if s.ChromaFormatIDC == 1 {
		unit *= 2
	}
	return unit
}

func (s *SPS) String() string {
	return fmt.Sprintf(
		"profile=0x%02X level=%d.%d %dx%d",
		s.ProfileIDC, s.LevelIDC/10, s.LevelIDC%10, s.Width(), s.Height(),
	)
}

// DecodeSPS - parse raw SPS NAL unit (with NAL header, without start code)
func DecodeSPS(nalu []byte) (*SPS, error) {
	if len(nalu) < 4 || NALUType(nalu) != NALUTypeSPS {
		return nil, ErrWrongSPS
	}

	r := bits.NewReader(RBSP(nalu[1:]))

	s := &SPS{
		ProfileIDC:      r.ReadByte(),
		ProfileIOP:      r.ReadByte(),
		LevelIDC:        r.ReadByte(),
		ChromaFormatIDC: 1, // default when not present
	}

	_ = r.ReadUEGolomb() // seq_parameter_set_id

	switch s.ProfileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		n := 8

		s.ChromaFormatIDC = r.ReadUEGolomb()
		if s.ChromaFormatIDC == 3 {
			_ = r.ReadBit() // separate_colour_plane_flag
			n = 12
		}

		r.SkipUEGolomb(2) // bit_depth_luma_minus8, bit_depth_chroma_minus8
		_ = r.ReadBit()   // qpprime_y_zero_transform_bypass_flag

		if r.ReadBit() != 0 { // seq_scaling_matrix_present_flag
			for i := 0; i < n; i++ {
				if r.ReadBit() == 0 {
					continue
				}
				if i < 6 {
					skipScalingList(r, 16)
				} else {
					skipScalingList(r, 64)
				}
			}
		}
	}

	_ = r.ReadUEGolomb() // log2_max_frame_num_minus4

	switch r.ReadUEGolomb() { // pic_order_cnt_type
	case 0:
		_ = r.ReadUEGolomb() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		_ = r.ReadBit()       // delta_pic_order_always_zero_flag
		_ = r.ReadSEGolomb()  // offset_for_non_ref_pic
		_ = r.ReadSEGolomb()  // offset_for_top_to_bottom_field
		n := r.ReadUEGolomb() // num_ref_frames_in_pic_order_cnt_cycle
		for i := uint32(0); i < n && !r.EOF; i++ {
			_ = r.ReadSEGolomb()
		}
	}

	_ = r.ReadUEGolomb() // max_num_ref_frames
	_ = r.ReadBit()      // gaps_in_frame_num_value_allowed_flag

	s.widthInMbs = r.ReadUEGolomb() + 1
	s.heightInMapUnits = r.ReadUEGolomb() + 1

	s.frameMbsOnly = r.ReadBit()
	if s.frameMbsOnly == 0 {
		_ = r.ReadBit() // mb_adaptive_frame_field_flag
	}

	_ = r.ReadBit() // direct_8x8_inference_flag

	if r.ReadBit() != 0 { // frame_cropping_flag
		s.cropLeft = r.ReadUEGolomb()
		s.cropRight = r.ReadUEGolomb()
		s.cropTop = r.ReadUEGolomb()
		s.cropBottom = r.ReadUEGolomb()
	}

	if r.EOF {
		return nil, ErrWrongSPS
	}

	return s, nil
}

func skipScalingList(r *bits.Reader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size && !r.EOF; j++ {
		if nextScale != 0 {
			deltaScale := r.ReadSEGolomb()
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// RBSP - remove emulation prevention bytes (00 00 03 -> 00 00)
func RBSP(b []byte) []byte {
	var rbsp []byte

	zeros := 0
	for i, c := range b {
		if zeros >= 2 && c == 3 {
			if rbsp == nil {
				rbsp = append(make([]byte, 0, len(b)), b[:i]...)
			}
			zeros = 0
			continue
		}

		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}

		if rbsp != nil {
			rbsp = append(rbsp, c)
		}
	}

	if rbsp == nil {
		return b
	}
	return rbsp
}
