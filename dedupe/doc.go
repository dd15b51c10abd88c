/*
Package dedupe decides, for every event handed to it, whether it is unique, a duplicate, expired or
an error, using the buckets kept by package bucket.

Events whose bucket is not resident wait while the bucket loads. In ordered mode every outcome is
held in a decision table and emitted strictly in arrival order.

The optional prefilter is an antibloom lookup inspired by Jeffrey Hodge's OppoBloom Filter:
https://github.com/jmhodges/opposite_of_a_bloom_filter

It is a fixed size table of xxHash64 values indexed by the low bits of the hash of (bucket, key).
Unlike a bloom filter it does not report an unseen entry as present (up to the 64 bit collision
rate), but forgets entries whenever a slot is reused. A hit therefore decides a duplicate without
loading the bucket and a miss falls back to the normal path.

* 32MB table: 4mil entries, false negative 1:3k, false positive 1:6bil
* 256MB table: 32mil entries, false negative 1:8k, false positive 1:6bil

False negatives cost a bucket load (meh)
False positives drop a unique event (bad)
*/
package dedupe
