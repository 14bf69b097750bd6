package model

// LoadType is the outcome of a track load request.
type LoadType string

const (
	LoadTrackLoaded    LoadType = "TRACK_LOADED"
	LoadPlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadSearchResult   LoadType = "SEARCH_RESULT"
	LoadNoMatches      LoadType = "NO_MATCHES"
	LoadFailed         LoadType = "LOAD_FAILED"
)

// Track is an encoded track together with its decoded metadata.
type Track struct {
	Track string    `json:"track"`
	Info  TrackInfo `json:"info"`
}

// TrackInfo describes a track. Length and Position are in milliseconds.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	URI        string `json:"uri"`
	Length     int64  `json:"length"`
	Position   int64  `json:"position"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
}

// PlaylistInfo is set when LoadType is PLAYLIST_LOADED.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult is the response body of /loadtracks.
type LoadResult struct {
	LoadType     LoadType      `json:"loadType"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
	Tracks       []Track       `json:"tracks"`
	Cause        *TrackError   `json:"cause,omitempty"`
}

// TrackError is the exception a node reports for a failed load or a track
// that failed mid-playback.
type TrackError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Class    string `json:"class,omitempty"`
}
