// Package memory holds the experience data model and the capacity-bounded
// experience store.
//
// An experience item is a distilled, reusable formulation strategy with
// success/failure provenance. The store owns all items, enforces title
// uniqueness and FIFO capacity eviction, embeds items on insertion for
// similarity retrieval, and persists to a versioned JSON file.
//
// # Concurrency
//
// One store may be shared by any number of agent loops. Mutations are
// serialized behind a single lock; reads return cloned snapshots so a
// caller never observes a partial insert or mutates stored state.
//
// # Usage
//
//	store := memory.NewStore(logger,
//	    memory.WithMaxItems(100),
//	    memory.WithEmbedder(provider),
//	)
//
//	item, err := memory.NewItem(
//	    "Match HBD polarity to target solute",
//	    "Choose donors whose polarity mirrors the compound being dissolved.",
//	    "Polar solutes dissolved best when the donor carried hydroxyl groups...",
//	)
//	if err != nil {
//	    return err
//	}
//	if err := store.Add(ctx, item); err != nil {
//	    return err
//	}
package memory
