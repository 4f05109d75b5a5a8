package ghibli

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// decodeFilms decodes a JSON array of films.
func decodeFilms(data []byte) ([]Film, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("response body is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("expected a JSON array, got %v", root.Type)
	}
	elems := root.Array()
	films := make([]Film, 0, len(elems))
	for i, elem := range elems {
		film, err := decodeFilmObject(elem)
		if err != nil {
			return nil, fmt.Errorf("film at index %d: %w", i, err)
		}
		films = append(films, film)
	}
	return films, nil
}

// decodeFilm decodes a single JSON film object.
func decodeFilm(data []byte) (Film, error) {
	if !gjson.ValidBytes(data) {
		return Film{}, errors.New("response body is not valid JSON")
	}
	return decodeFilmObject(gjson.ParseBytes(data))
}

func decodeFilmObject(obj gjson.Result) (Film, error) {
	if !obj.IsObject() {
		return Film{}, fmt.Errorf("expected a JSON object, got %v", obj.Type)
	}

	film := Film{}
	// The API uses snake_case, so every field is mapped by hand.
	required := []struct {
		key    string
		target *string
	}{
		{"id", &film.ID},
		{"title", &film.Title},
		{"original_title", &film.OriginalTitle},
		{"original_title_romanised", &film.OriginalTitleRomanised},
		{"description", &film.Description},
		{"director", &film.Director},
		{"producer", &film.Producer},
		{"release_date", &film.ReleaseDate},
		{"running_time", &film.RunningTime},
		{"rt_score", &film.RTScore},
	}
	for _, field := range required {
		val, err := requiredString(obj, field.key)
		if err != nil {
			return Film{}, err
		}
		*field.target = val
	}

	var err error
	if film.Image, err = optionalString(obj, "image"); err != nil {
		return Film{}, err
	}
	if film.MovieBanner, err = optionalString(obj, "movie_banner"); err != nil {
		return Film{}, err
	}
	return film, nil
}

func requiredString(obj gjson.Result, key string) (string, error) {
	val := obj.Get(key)
	if !val.Exists() {
		return "", fmt.Errorf("missing required field %q", key)
	}
	if val.Type != gjson.String {
		return "", fmt.Errorf("field %q must be a string, but is %v", key, val.Type)
	}
	return val.Str, nil
}

func optionalString(obj gjson.Result, key string) (*string, error) {
	val := obj.Get(key)
	if !val.Exists() || val.Type == gjson.Null {
		return nil, nil
	}
	if val.Type != gjson.String {
		return nil, fmt.Errorf("field %q must be a string or null, but is %v", key, val.Type)
	}
	s := val.Str
	return &s, nil
}
