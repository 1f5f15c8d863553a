package h264

import (
	"encoding/binary"
	"errors"
	"io"
)

// Record - AVCDecoderConfigurationRecord, ISO/IEC 14496-15 5.2.4.1
//
//	aligned(8) class AVCDecoderConfigurationRecord {
//	  unsigned int(8) configurationVersion = 1;
//	  unsigned int(8) AVCProfileIndication;
//	  unsigned int(8) profile_compatibility;
//	  unsigned int(8) AVCLevelIndication;
//	  bit(6) reserved = '111111'b;
//	  unsigned int(2) lengthSizeMinusOne;
//	  bit(3) reserved = '111'b;
//	  unsigned int(5) numOfSequenceParameterSets;
//	  for (i=0; i< numOfSequenceParameterSets; i++) {
//	    unsigned int(16) sequenceParameterSetLength;
//	    bit(8*sequenceParameterSetLength) sequenceParameterSetNALUnit;
//	  }
//	  unsigned int(8) numOfPictureParameterSets;
//	  for (i=0; i< numOfPictureParameterSets; i++) {
//	    unsigned int(16) pictureParameterSetLength;
//	    bit(8*pictureParameterSetLength) pictureParameterSetNALUnit;
//	  }
//	}
type Record struct {
	ConfigurationVersion byte
	ProfileIndication    byte
	ProfileCompatibility byte
	LevelIndication      byte
	LengthSizeMinusOne   byte // 2 bits

	SPS [][]byte
	PPS [][]byte
}

const (
	maxSPSCount = 0b1_1111
	maxPPSCount = 0xFF
	maxPSSize   = 0xFFFF
)

var (
	ErrRecordOverflow = errors.New("h264: parameter sets don't fit AVC config")
	ErrRecordSize     = errors.New("h264: wrong AVC config size")
)

func NewRecord(profile, level byte) *Record {
	return &Record{
		ConfigurationVersion: 1,
		ProfileIndication:    profile,
		ProfileCompatibility: 0,
		LevelIndication:      level,
		LengthSizeMinusOne:   0b11, // 4 bytes NALU length
	}
}

func (r *Record) AddSPS(b []byte) {
	r.SPS = append(r.SPS, b)
}

func (r *Record) AddPPS(b []byte) {
	r.PPS = append(r.PPS, b)
}

// Validate - counts and sizes must fit record fields
func (r *Record) Validate() error {
	if len(r.SPS) > maxSPSCount || len(r.PPS) > maxPPSCount {
		return ErrRecordOverflow
	}
	for _, b := range r.SPS {
		if len(b) > maxPSSize {
			return ErrRecordOverflow
		}
	}
	for _, b := range r.PPS {
		if len(b) > maxPSSize {
			return ErrRecordOverflow
		}
	}
	return nil
}

func (r *Record) Size() int {
	n := 7
	for _, b := range r.SPS {
		n += 2 + len(b)
	}
	for _, b := range r.PPS {
		n += 2 + len(b)
	}
	return n
}

// Marshal - record bytes, Validate should be checked before for untrusted parameter sets
func (r *Record) Marshal() []byte {
	b := make([]byte, 0, r.Size())
	return r.AppendTo(b)
}

func (r *Record) AppendTo(b []byte) []byte {
	b = append(b,
		r.ConfigurationVersion,
		r.ProfileIndication,
		r.ProfileCompatibility,
		r.LevelIndication,
		0b1111_1100|r.LengthSizeMinusOne,
		0b1110_0000|byte(len(r.SPS)),
	)
	for _, sps := range r.SPS {
		b = binary.BigEndian.AppendUint16(b, uint16(len(sps)))
		b = append(b, sps...)
	}

	b = append(b, byte(len(r.PPS)))
	for _, pps := range r.PPS {
		b = binary.BigEndian.AppendUint16(b, uint16(len(pps)))
		b = append(b, pps...)
	}
	return b
}

// WriteTo - implements io.WriterTo
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	n, err := w.Write(r.Marshal())
	return int64(n), err
}

func (r *Record) Clone() *Record {
	clone := *r
	clone.SPS = cloneSets(r.SPS)
	clone.PPS = cloneSets(r.PPS)
	return &clone
}

func cloneSets(sets [][]byte) [][]byte {
	if sets == nil {
		return nil
	}
	clone := make([][]byte, len(sets))
	for i, b := range sets {
		clone[i] = append([]byte(nil), b...)
	}
	return clone
}

func ParseRecord(b []byte) (*Record, error) {
	if len(b) < 7 {
		return nil, ErrRecordSize
	}

	r := &Record{
		ConfigurationVersion: b[0],
		ProfileIndication:    b[1],
		ProfileCompatibility: b[2],
		LevelIndication:      b[3],
		LengthSizeMinusOne:   b[4] & 0b11,
	}

	var err error

	n := int(b[5] & maxSPSCount)
	b = b[6:]
	if r.SPS, b, err = readSets(b, n); err != nil {
		return nil, err
	}

	if len(b) < 1 {
		return nil, ErrRecordSize
	}

	n = int(b[0])
	if r.PPS, _, err = readSets(b[1:], n); err != nil {
		return nil, err
	}

	return r, nil
}

func readSets(b []byte, n int) ([][]byte, []byte, error) {
	var sets [][]byte
	for i := 0; i < n; i++ {
		if len(b) < 2 {
			return nil, nil, ErrRecordSize
		}
		size := int(binary.BigEndian.Uint16(b)) + 2
		if len(b) < size {
			return nil, nil, ErrRecordSize
		}
		sets = append(sets, b[2:size])
		b = b[size:]
	}
	return sets, b, nil
}
