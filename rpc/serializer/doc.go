// Package serializer provides the message serialization of the oKV rpc system.
// It defines a common interface and multiple implementations for serializing and
// deserializing messages between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A flag word marks the present fields,
//     only those are written, each with a length prefix. Smallest and fastest option.
//
//   - cborSerializerImpl: CBOR (RFC 8949) with integer map keys, a compact standard
//     format that other languages can decode without a custom parser.
//
//   - jsonSerializer: JSON encoding, useful for debugging.
//
//   - gobSerializer: gob encoding, one self contained stream per message.
//
// Record payloads are carried as JSON inside Message.Value by every serializer, so the
// choice of serializer never changes how records (and large numeric ids) are decoded.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
