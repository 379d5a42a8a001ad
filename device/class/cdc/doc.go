// Package cdc implements the USB Communications Device Class, Abstract
// Control Model (CDC-ACM), on top of the device driver. CDC-ACM is the
// standard class for USB serial ports.
//
// A CDC-ACM function occupies two interfaces: a Communications Class
// control interface carrying the class requests and the SERIAL_STATE
// notification endpoint, and a Data Class interface carrying the bulk
// data endpoints. Install adds both interfaces, their functional
// descriptors, and the interface association to a configuration; Bind
// attaches the class driver to a running device driver.
//
//	acm := cdc.NewACM()
//	config := device.NewConfiguration(1)
//	acm.Install(config, 0, 0x82, 0x81, 0x01)
//	dev.AddConfiguration(config)
//
//	drv := device.New(hw, dev)
//	acm.Bind(drv)
//	drv.Start()
//
//	n, err := acm.Read(ctx, buf)
//	acm.Write(ctx, data)
package cdc
