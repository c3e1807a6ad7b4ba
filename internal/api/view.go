package api

import "github.com/afterhours-fm/afterhours/internal/domain"

// publicView is the slot shape returned by query endpoints — every field
// except the stream key, which must never be present outside an
// authenticated owner's getStreamKey/generate_key response (§6).
type publicView struct {
	ID          string  `json:"id"`
	DJID        string  `json:"djId"`
	DJName      string  `json:"djName"`
	Start       string  `json:"startTime"`
	End         string  `json:"endTime"`
	Duration    int     `json:"duration"`
	Status      string  `json:"status"`
	Title       string  `json:"title"`
	Genre       string  `json:"genre"`
	Description string  `json:"description,omitempty"`
	IsRelay     bool    `json:"isRelay,omitempty"`

	CurrentViewers int     `json:"currentViewers"`
	ViewerPeak     int     `json:"viewerPeak"`
	TotalViews     int     `json:"totalViews"`
	TotalLikes     int     `json:"totalLikes"`
	AverageRating  float64 `json:"averageRating"`
	RatingCount    int     `json:"ratingCount"`
}

// publicSlot redacts the stream key before a slot crosses the HTTP boundary
// on a query path. Returns nil for a nil slot, which encodes as JSON null.
func publicSlot(sl *domain.Slot) *publicView {
	if sl == nil {
		return nil
	}
	return &publicView{
		ID: sl.ID, DJID: sl.DJID, DJName: sl.DJName,
		Start: sl.Start.Format(rfc3339), End: sl.End.Format(rfc3339),
		Duration: sl.Duration, Status: string(sl.Status),
		Title: sl.Title, Genre: sl.Genre, Description: sl.Description, IsRelay: sl.IsRelay,
		CurrentViewers: sl.CurrentViewers, ViewerPeak: sl.ViewerPeak,
		TotalViews: sl.TotalViews, TotalLikes: sl.TotalLikes,
		AverageRating: sl.AverageRating, RatingCount: sl.RatingCount,
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
