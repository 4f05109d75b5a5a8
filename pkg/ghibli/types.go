package ghibli

// Film represents a film of the Studio Ghibli API.
// Based on the API docs:
//
//  {
//  	"id": "string",
//  	"title": "string",
//  	"original_title": "string", // Japanese title
//  	"original_title_romanised": "string",
//  	"description": "string",
//  	"director": "string",
//  	"producer": "string",
//  	"release_date": "string", // Year, e.g. "1986"
//  	"running_time": "string", // Minutes, e.g. "124"
//  	"rt_score": "string", // Rotten Tomatoes score, e.g. "95"
//  	"image": "string", // !! Can be null or missing, thumbnail URL
//  	"movie_banner": "string" // !! Can be null or missing, banner URL
//  }
type Film struct {
	ID                     string  `json:"id"`
	Title                  string  `json:"title"`
	OriginalTitle          string  `json:"original_title"`
	OriginalTitleRomanised string  `json:"original_title_romanised"`
	Description            string  `json:"description"`
	Director               string  `json:"director"`
	Producer               string  `json:"producer"`
	ReleaseDate            string  `json:"release_date"`
	RunningTime            string  `json:"running_time"`
	RTScore                string  `json:"rt_score"`
	// Thumbnail URL
	Image *string `json:"image,omitempty"`
	// Banner URL
	MovieBanner *string `json:"movie_banner,omitempty"`
}

// ImageURL returns the thumbnail URL or an empty string if the film has none.
func (f Film) ImageURL() string {
	if f.Image == nil {
		return ""
	}
	return *f.Image
}

// BannerURL returns the banner URL or an empty string if the film has none.
func (f Film) BannerURL() string {
	if f.MovieBanner == nil {
		return ""
	}
	return *f.MovieBanner
}
