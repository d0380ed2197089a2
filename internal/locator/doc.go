// Package locator finds content files and series folders by keyword.
//
// Searches walk a content root recursively and match names case- and
// accent-insensitively. Unreadable directories never abort a search; each
// one is recorded in the ScanReport returned alongside the matches so
// callers can surface permission problems without losing the rest of the
// tree. Results are cached briefly so one order touching the same root
// several times walks it once.
package locator
