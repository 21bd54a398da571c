package observers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

// TagIndexFile is the derived artifact maintained by the tag_index observer.
// Underscore-prefixed files are invisible to the watcher, so regenerating it
// cannot re-trigger the pipeline.
const TagIndexFile = "_tag_index.md"

// TagIndex regenerates the vault-wide tag index whenever any note changes.
// It proposes no mutation for the triggering note itself; its output is the
// derived file, written through the store only when the content moved.
func TagIndex(store notestore.Provider) (observer.Descriptor, observer.Runtime) {
	d := observer.Descriptor{
		Name:         "tag_index",
		Runtime:      observer.RuntimeNative,
		Capabilities: observer.CapFiles,
		Timeout:      10 * time.Second,
		Priority:     90,
	}

	fn := func(_ context.Context, _ *event.NoteEvent) (observer.Result, error) {
		content, err := buildTagIndex(store)
		if err != nil {
			return observer.Result{}, err
		}

		current, err := store.Read(TagIndexFile)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return observer.Result{}, err
		}
		if bytes.Equal(current, content) {
			return observer.Result{Status: observer.Unchanged}, nil
		}
		if err := store.Write(TagIndexFile, content); err != nil {
			return observer.Result{}, err
		}
		return observer.Result{Status: observer.Unchanged}, nil
	}

	return d, runtime.NewNative(fn)
}

func buildTagIndex(store notestore.Provider) ([]byte, error) {
	metas, err := store.List("")
	if err != nil {
		return nil, err
	}

	byTag := make(map[string][]string)
	for _, m := range metas {
		note, err := store.Load(m.Path)
		if err != nil {
			continue
		}
		title := note.Title()
		for _, tag := range note.Tags() {
			byTag[tag] = append(byTag[tag], title)
		}
	}

	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var b strings.Builder
	b.WriteString("# Tag Index\n")
	for _, tag := range tags {
		titles := byTag[tag]
		sort.Strings(titles)
		b.WriteString(fmt.Sprintf("\n## %s\n\n", tag))
		for _, title := range titles {
			b.WriteString(fmt.Sprintf("* [[%s]]\n", title))
		}
	}
	return []byte(b.String()), nil
}
