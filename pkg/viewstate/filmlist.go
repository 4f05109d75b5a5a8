package viewstate

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/doingodswork/ghibli-catalog/pkg/ghibli"
)

// FilmLister fetches all films. *ghibli.Client implements it.
type FilmLister interface {
	ListFilms(ctx context.Context) ([]ghibli.Film, error)
}

// FilmList holds the state of the film list.
type FilmList struct {
	*holder[[]ghibli.Film]
	client FilmLister
}

// NewFilmList creates a new FilmList. Its initial state is loading.
// Failure messages are localized for lang.
func NewFilmList(client FilmLister, lang language.Tag, logger *zap.Logger) *FilmList {
	return &FilmList{
		holder: newHolder[[]ghibli.Film](lang, logger),
		client: client,
	}
}

// Load publishes the loading state, fetches the films and then publishes the loaded or failed state.
// If ctx is done before the fetch finishes, no final state is published and ctx's error is returned.
func (l *FilmList) Load(ctx context.Context) error {
	return l.load(ctx, false)
}

// Refresh fetches the films again. While a list is shown, no loading state is published
// and a failure keeps the shown list. Without a shown list it behaves like Load.
func (l *FilmList) Refresh(ctx context.Context) error {
	return l.load(ctx, true)
}

// Retry loads the films again after a failure.
func (l *FilmList) Retry(ctx context.Context) error {
	return l.Load(ctx)
}

func (l *FilmList) load(ctx context.Context, refresh bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var gen uint64
	showLoading := true
	if refresh {
		gen, showLoading = l.beginRefresh()
	} else {
		gen = l.begin(true)
	}

	films, err := l.client.ListFilms(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		l.logger.Debug("Film list load was cancelled", zap.Error(ctxErr))
		return ctxErr
	}
	if err != nil {
		if !showLoading {
			l.logger.Warn("Couldn't refresh film list, keeping the current one", zap.Error(err))
			return err
		}
		l.logger.Error("Couldn't load film list", zap.Error(err))
		l.publish(gen, Failed[[]ghibli.Film](ghibli.UserMessage(err, l.lang)))
		return err
	}
	l.publish(gen, Loaded(films))
	return nil
}
