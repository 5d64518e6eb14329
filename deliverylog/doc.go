// Package deliverylog records every webhook attempt and replays logged
// attempts. A replay carries the original log id through the dispatch so the
// same row is overwritten: date_triggered is kept and date_last_retry is set.
package deliverylog
