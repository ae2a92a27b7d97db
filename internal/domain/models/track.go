package models

// Track - трек из очереди хоста, протоколу важен только ID
type Track struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	Cover    string  `json:"cover,omitempty"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
	Lyrics   string  `json:"lyrics,omitempty"`
}

// CloneTracks копирует список
func CloneTracks(tracks []Track) []Track {
	if tracks == nil {
		return nil
	}

	out := make([]Track, len(tracks))
	copy(out, tracks)

	return out
}
