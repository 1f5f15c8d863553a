package h264

// Unit - value passed between pipeline stages, one of Configuration or Data.
// Exactly one Configuration precedes any Data on a stream.
type Unit interface {
	unit()
}

// Configuration - stream parameters taken from the first keyframe
type Configuration struct {
	Raw    []byte // coded bytes of the first keyframe, before decoding
	Record *Record
}

// Data - timestamped coded data. Before the transcoder Payload is a depacketized NAL unit
// and Timestamp is in RTP clock units divided by the clock rate. After the transcoder
// Payload is a framed FLV video tag body.
type Data struct {
	Timestamp uint32
	Payload   []byte
}

func (*Configuration) unit() {}
func (*Data) unit()          {}

func NewConfiguration(raw []byte, record *Record) *Configuration {
	return &Configuration{Raw: raw, Record: record}
}

func NewData(timestamp uint32, payload []byte) *Data {
	return &Data{Timestamp: timestamp, Payload: payload}
}
