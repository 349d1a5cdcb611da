// Package tokforge is a training-sample index and writable corpus engine
// for token datasets in the Megatron .bin/.idx format.
//
// The engine maps a corpus of variable-length tokenized documents onto a
// fixed shape of training samples. Three cached arrays drive the mapping:
// doc_idx orders document visits across epochs, sample_idx marks where
// each sample starts inside that stream, and shuffle_idx permutes sample
// ordinals into physical positions. The arrays are deterministic for a
// given fingerprint (prefix, split, sample count, sequence length, seed,
// packing policy) and are persisted next to the corpus so subsequent runs
// load instead of rebuilding.
//
// Basic usage:
//
//	eng, err := tokforge.Open(ctx, "/data/c4_en",
//		tokforge.WithSeqLength(2048),
//		tokforge.WithTrainingShape(1000, 32),
//		tokforge.WithSeed(1234),
//		tokforge.WithPolicy(index.Packed),
//	)
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	segments, err := eng.Sample(ctx, 0)
//
// Opening with WithWritable enables injection: Inject overwrites token
// ranges inside the samples a training run will see, either at the head of
// a sample (prepend) or at a random position (shuffle_in), with dry-run
// simulation and, when a journal is configured, reversible persistence.
package tokforge
