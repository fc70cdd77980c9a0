// Package preview builds the one-line text shown next to each conversation.
//
// Message content may contain markdown; the renderer strips it with goldmark,
// collapses whitespace and truncates to a configured number of runes.
package preview
