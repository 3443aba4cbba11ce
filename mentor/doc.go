// Package mentor binds the AI Mentor backend resources to the query cache.
//
// Every resource gets a Binding: cache keys shaped [entity, "list", filters]
// and [entity, "detail", id], read queries over the REST client and write
// mutations that know which entries a write makes stale. Services groups the
// bindings and adds the resource specific actions: publishing, blocking,
// linking children to a parent, assigning homework, grading submissions and
// sending chat messages.
//
//	svc := mentor.NewServices(store, client)
//	obs := svc.Students.ObserveList(mentor.Filters{ClassID: 3})
//	defer obs.Close()
//
//	if _, err := svc.Students.Delete().Exec(ctx, 7); err != nil {
//		return err
//	}
//	// obs refetches: every students list was invalidated.
package mentor
