package viewstate

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/doingodswork/ghibli-catalog/pkg/ghibli"
)

// FilmGetter fetches a single film. *ghibli.Client implements it.
type FilmGetter interface {
	GetFilm(ctx context.Context, id string) (ghibli.Film, error)
}

// FilmDetail holds the state of a single film's details.
type FilmDetail struct {
	*holder[ghibli.Film]
	client FilmGetter
	// ID of the last Load call, used by Retry
	lastID string
}

// NewFilmDetail creates a new FilmDetail. Its initial state is loading.
// Failure messages are localized for lang.
func NewFilmDetail(client FilmGetter, lang language.Tag, logger *zap.Logger) *FilmDetail {
	return &FilmDetail{
		holder: newHolder[ghibli.Film](lang, logger),
		client: client,
	}
}

// Load publishes the loading state, fetches the film with the given ID and then publishes the loaded or failed state.
// If ctx is done before the fetch finishes, no final state is published and ctx's error is returned.
func (d *FilmDetail) Load(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.lock.Lock()
	d.lastID = id
	d.lock.Unlock()
	gen := d.begin(true)

	zapFieldID := zap.String("id", id)
	film, err := d.client.GetFilm(ctx, id)
	if ctxErr := ctx.Err(); ctxErr != nil {
		d.logger.Debug("Film load was cancelled", zap.Error(ctxErr), zapFieldID)
		return ctxErr
	}
	if err != nil {
		d.logger.Error("Couldn't load film", zap.Error(err), zapFieldID)
		d.publish(gen, Failed[ghibli.Film](ghibli.UserMessage(err, d.lang)))
		return err
	}
	d.publish(gen, Loaded(film))
	return nil
}

// Retry loads the film of the last Load call again.
func (d *FilmDetail) Retry(ctx context.Context) error {
	d.lock.Lock()
	id := d.lastID
	d.lock.Unlock()
	if id == "" {
		return errors.New("no film was loaded before")
	}
	return d.Load(ctx, id)
}
