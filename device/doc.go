// Package device implements a USB 2.0 Full-Speed device-controller driver.
//
// The driver manages the controller's shared 1024-byte packet memory, the
// endpoint configuration and state tables, the control pipe on endpoint 0
// (standard request handling and class request delegation), and multi-packet
// IN/OUT transfers on data endpoints 1 through 7.
//
// All protocol logic runs inside the hardware interrupt handler installed on
// the hal.Hardware controller. Consumers interact through the Driver type:
// StartReceive and StartSend arm asynchronous transfers, Read and Write
// block until completion, and a registered RequestHandler receives class and
// vendor control requests that the standard handler does not consume.
//
// The Device type describes the device to the host: its device descriptor,
// configurations, interfaces, endpoints, and string descriptors. A
// DeviceBuilder assembles common layouts fluently.
package device
