package ir

// GenesisTxID is the well-known root of every state URI's transaction log:
// the hex encoding of "genesis" right-padded with zero bytes to 32 bytes.
const GenesisTxID = "67656e6573697300000000000000000000000000000000000000000000000000"
