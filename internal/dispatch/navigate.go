package dispatch

import (
	"fmt"
	"slices"

	"caracas/internal/command"
)

// neighbour returns the value delta steps away from current in the sorted,
// de-duplicated values, wrapping at both ends.
func neighbour(values []string, current string, delta int) (string, error) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	idx, found := slices.BinarySearch(sorted, current)
	if !found {
		return "", fmt.Errorf("%w: %q", ErrTagNotFound, current)
	}

	n := len(sorted)
	next := ((idx+delta)%n + n) % n
	return sorted[next], nil
}

// navigation maps the artist/album commands to their tag and direction.
func navigation(cmd command.Command) (Tag, int, bool) {
	switch cmd.(type) {
	case command.NextArtist:
		return TagArtist, 1, true
	case command.PreviousArtist:
		return TagArtist, -1, true
	case command.NextAlbum:
		return TagAlbum, 1, true
	case command.PreviousAlbum:
		return TagAlbum, -1, true
	default:
		return "", 0, false
	}
}

// navigate replaces the queue with every song carrying the tag value delta
// steps away from the playing one, and starts playback.
func navigate(svc Service, tag Tag, delta int) error {
	target, err := resolveTarget(svc, tag, delta)
	if err != nil {
		return err
	}
	return replaceQueue(svc, tag, target)
}

// resolveTarget finds the tag value delta steps away from the playing one.
func resolveTarget(svc Service, tag Tag, delta int) (string, error) {
	current, err := svc.CurrentTag(tag)
	if err != nil {
		return "", fmt.Errorf("current %s: %w", tag, err)
	}
	values, err := svc.TagValues(tag)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", tag, err)
	}

	target, err := neighbour(values, current, delta)
	if err != nil {
		return "", fmt.Errorf("%s navigation: %w", tag, err)
	}
	return target, nil
}

func replaceQueue(svc Service, tag Tag, target string) error {
	if err := svc.Clear(); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if err := svc.FindAdd(tag, target); err != nil {
		return fmt.Errorf("queue %s %q: %w", tag, target, err)
	}
	if err := svc.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}
