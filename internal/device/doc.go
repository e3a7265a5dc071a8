// Package device provides the device mapping registry for Gray Logic Voice.
//
// A registry holds, per backend, the devices fetched from that backend,
// the user-extensible device type and location vocabularies, and the
// mapping an administrator gives each device: whether it is enabled and
// which (device type, location) pair a spoken command uses to reach it.
//
// # Invariant
//
// Among enabled devices no two may share a (device type, location) pair.
// The registry does not refuse a mutation that breaks this; it reports
// the pair as a Conflict, and the grammar generator and resolver leave
// conflicting pairs out of scope.
//
// # Concurrency
//
//	admin API ──▶ Registry.mu ──▶ draft ──▶ Repository.Save ──▶ atomic publish
//	                                                             │
//	invocations ◀──────────── Snapshot() (lock-free) ◀───────────┘
//
// Every committed mutation bumps the revision; grammar caches compare
// revisions to detect staleness.
//
// # Usage
//
//	reg := device.NewRegistry("home", device.NewSQLiteRepository(db.DB))
//	reg.SetLogger(log)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//
//	res, err := reg.Assign(ctx, "light.kitchen_ceiling", device.Set("lights"), device.Set("kitchen"))
//	if err != nil {
//	    return err
//	}
//	if err := res.ConflictErr(); err != nil {
//	    log.Warn("assignment created a conflict", "error", err)
//	}
package device
