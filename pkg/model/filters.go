package model

// Filters are the audio filters applied to a player. Nil members are not
// sent and leave the node's current setting in place.
type Filters struct {
	Karaoke   *Karaoke   `json:"karaoke,omitempty"`
	Timescale *Timescale `json:"timescale,omitempty"`
	Tremolo   *Tremolo   `json:"tremolo,omitempty"`
	Vibrato   *Vibrato   `json:"vibrato,omitempty"`
	Equalizer *Equalizer `json:"equalizer,omitempty"`
}

// IsZero reports whether no filter is set.
func (f *Filters) IsZero() bool {
	return f == nil || (f.Karaoke == nil && f.Timescale == nil && f.Tremolo == nil &&
		f.Vibrato == nil && f.Equalizer == nil)
}

type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type Tremolo struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Equalizer struct {
	Bands []EqualizerBand `json:"bands"`
}

// EqualizerBand sets the gain of one of the 15 equalizer bands (0-14).
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}
