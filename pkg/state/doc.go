// Package state records the own-state snapshot of every mounted scope together
// with a monotonically increasing revision.
//
// Responsibilities:
//   - Store[T] only loads/saves/deletes a single snapshot for a single Ref.
//   - Committer[T] applies one mutation at a time and rejects it when the
//     caller's expected revision no longer matches the stored one, which is how
//     the single-writer-per-scope discipline is asserted at commit time.
//   - Nothing here outlives the process; MemoryStore is the only implementation
//     the stores package ships.
//
// Data flow:
//
//	Host.ScheduleUpdate -> Committer.Mutate -> Store.Load / Store.Save
package state
