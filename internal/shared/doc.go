// Package shared contains the error taxonomy used across delayd.
//
// Sentinel errors describe failure classes, not components:
//
//   - ErrNotFound: job or stored record is absent
//   - ErrValidation: a job spec or request is malformed
//   - ErrConflict: a job id is already pending
//   - ErrDependencyFailure: a store, broker or callback target failed
//   - ErrTimeout: an operation ran out of time
//   - ErrInternal: anything else
//
// Classify with KindOf or the Is* predicates, and map kinds to transport
// codes in adapters:
//
//	switch shared.KindOf(err) {
//	case shared.KindValidation:
//	    return http.StatusBadRequest
//	case shared.KindConflict:
//	    return http.StatusConflict
//	default:
//	    return http.StatusInternalServerError
//	}
//
// Use MarkKind to classify third-party errors (database drivers, AMQP,
// HTTP) without losing the original:
//
//	if err := rdb.HSet(ctx, key, id, data).Err(); err != nil {
//	    return shared.MarkKind(err, shared.KindDependencyFailure)
//	}
//
// Messages are lowercase, without trailing punctuation, so they compose
// when wrapped with Wrap or Wrapf.
package shared
