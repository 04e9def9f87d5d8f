// Package common provides the data structures shared by the rpc client, server,
// transports and serializers of oKV.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Records travel as JSON
//     inside Message.Value so every serializer carries them unchanged, files travel
//     as raw bytes in Message.File.
//
//   - MessageType: Enumeration of the supported operations (ping, record operations,
//     file operations) and the success and error responses.
//
//   - ServerConfig / ClientConfig: Configuration of the remote service and of the
//     client side transport, each with a String() dump used at startup.
//
//   - Logger: Custom logging implementation plugged into the dragonboat logger
//     factory, giving all oKV packages the same "LEVEL | name | message" format.
package common
