package extractor

import (
	"sort"
	"sync"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/versions"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

// Loader resolves channel names to handles bound to the channel's current
// installation. A handle keeps its installation for its whole lifetime, so a
// release installed meanwhile only affects handles resolved afterwards.
type Loader struct {
	store   *versions.Store
	factory Factory

	mu    sync.Mutex
	bound map[string]versions.Installation
}

func NewLoader(store *versions.Store, factory Factory) *Loader {
	return &Loader{
		store:   store,
		factory: factory,
		bound:   make(map[string]versions.Installation),
	}
}

// Resolve returns a handle for channel or an ErrChannelNotInstalled error.
// Callers must Close the handle when the job is done with it.
func (l *Loader) Resolve(channel string) (Handle, error) {
	inst, release, err := l.store.Acquire(channel)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	prev, ok := l.bound[channel]
	if !ok || prev.Dir != inst.Dir {
		if ok {
			log.Info("Channel %s rebound from %s to %s", channel, prev.Version, inst.Version)
		} else {
			log.Info("Channel %s bound to yt-dlp %s", channel, inst.Version)
		}
		l.bound[channel] = inst
	}
	l.mu.Unlock()

	return l.factory(inst, release), nil
}

// Invalidate forgets the channel's binding; the next Resolve rebinds it.
func (l *Loader) Invalidate(channel string) {
	l.mu.Lock()
	delete(l.bound, channel)
	l.mu.Unlock()
}

// Bindings lists the installations handed out most recently, per channel.
func (l *Loader) Bindings() []versions.Installation {
	l.mu.Lock()
	defer l.mu.Unlock()

	ret := make([]versions.Installation, 0, len(l.bound))
	for _, inst := range l.bound {
		ret = append(ret, inst)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Channel < ret[j].Channel })
	return ret
}
